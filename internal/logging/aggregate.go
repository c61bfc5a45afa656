package logging

// This file reads engine logs back in for the logs command. It parses
// the JSON lines the Logger wrote, then filters and re-renders them.

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed engine log line.
type LogEntry struct {
	Timestamp  time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"msg"`
	InstanceID string         `json:"instance_id,omitempty"`
	Workflow   string         `json:"workflow,omitempty"`
	Step       string         `json:"step,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero-valued fields do not filter; set
// fields combine with AND.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level string
	// StartTime and EndTime bound the entry timestamp.
	StartTime time.Time
	EndTime   time.Time
	// InstanceID keeps entries for one instance.
	InstanceID string
	// Workflow keeps entries for one workflow ("coding" or "review").
	Workflow string
	// MessageContains keeps entries whose message contains the substring.
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadLogFile parses a JSON-lines log file into entries sorted by
// timestamp. Lines that do not parse are skipped so a partially
// corrupted file still yields what it can.
func ReadLogFile(path string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)

	// Attr payloads can make lines long.
	const maxScanTokenSize = 1024 * 1024
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// parseLogEntry parses one JSON log line.
func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	if timeStr, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
			entry.Timestamp = t
		}
	}
	if level, ok := raw["level"].(string); ok {
		entry.Level = level
	}
	if msg, ok := raw["msg"].(string); ok {
		entry.Message = msg
	}
	if instanceID, ok := raw["instance_id"].(string); ok {
		entry.InstanceID = instanceID
	}
	if workflow, ok := raw["workflow"].(string); ok {
		entry.Workflow = workflow
	}
	if step, ok := raw["step"].(string); ok {
		entry.Step = step
	}

	standardFields := map[string]bool{
		"time":        true,
		"level":       true,
		"msg":         true,
		"instance_id": true,
		"workflow":    true,
		"step":        true,
	}
	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs keeps the entries matching every set criterion.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if isEmptyFilter(filter) {
		return entries
	}
	var filtered []LogEntry
	for _, entry := range entries {
		if matchesFilter(entry, filter) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func isEmptyFilter(f LogFilter) bool {
	return f.Level == "" &&
		f.StartTime.IsZero() &&
		f.EndTime.IsZero() &&
		f.InstanceID == "" &&
		f.Workflow == "" &&
		f.MessageContains == ""
}

func matchesFilter(entry LogEntry, filter LogFilter) bool {
	if filter.Level != "" {
		filterLevel, filterOk := levelOrder[strings.ToUpper(filter.Level)]
		entryLevel, entryOk := levelOrder[entry.Level]
		if filterOk && entryOk && entryLevel < filterLevel {
			return false
		}
	}
	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.InstanceID != "" && entry.InstanceID != filter.InstanceID {
		return false
	}
	if filter.Workflow != "" && entry.Workflow != filter.Workflow {
		return false
	}
	if filter.MessageContains != "" && !strings.Contains(entry.Message, filter.MessageContains) {
		return false
	}
	return true
}

// WriteLogEntries renders entries to w. Supported formats: "json",
// "text", "csv".
func WriteLogEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return writeJSON(w, entries)
	case "text":
		return writeText(w, entries)
	case "csv":
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported log format: %s (supported: json, text, csv)", format)
	}
}

func writeJSON(w io.Writer, entries []LogEntry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

// writeText renders: [TIMESTAMP] LEVEL - MESSAGE (context) {attrs}
func writeText(w io.Writer, entries []LogEntry) error {
	for _, entry := range entries {
		var parts []string
		parts = append(parts, fmt.Sprintf("[%s]", entry.Timestamp.Format("2006-01-02 15:04:05.000")))
		parts = append(parts, entry.Level, "-", entry.Message)

		var context []string
		if entry.Workflow != "" {
			context = append(context, fmt.Sprintf("workflow=%s", entry.Workflow))
		}
		if entry.InstanceID != "" {
			context = append(context, fmt.Sprintf("instance=%s", entry.InstanceID))
		}
		if entry.Step != "" {
			context = append(context, fmt.Sprintf("step=%s", entry.Step))
		}
		if len(context) > 0 {
			parts = append(parts, fmt.Sprintf("(%s)", strings.Join(context, ", ")))
		}
		if len(entry.Attrs) > 0 {
			attrsJSON, _ := json.Marshal(entry.Attrs)
			parts = append(parts, string(attrsJSON))
		}

		if _, err := io.WriteString(w, strings.Join(parts, " ")+"\n"); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, entries []LogEntry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	headers := []string{"timestamp", "level", "message", "workflow", "instance_id", "step", "attrs"}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		attrsJSON := ""
		if len(entry.Attrs) > 0 {
			if b, err := json.Marshal(entry.Attrs); err == nil {
				attrsJSON = string(b)
			}
		}
		record := []string{
			entry.Timestamp.Format(time.RFC3339Nano),
			entry.Level,
			entry.Message,
			entry.Workflow,
			entry.InstanceID,
			entry.Step,
			attrsJSON,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	return nil
}

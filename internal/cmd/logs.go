package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dispatchworks/dispatch/internal/config"
	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/spf13/cobra"
)

var (
	logsLevel    string
	logsInstance string
	logsWorkflow string
	logsSince    string
	logsContains string
	logsFormat   string
	logsTail     int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read and filter the engine log",
	Long: `Logs reads the engine log file, applies the given filters and prints
the matching entries. Requires file logging (logging.dir) to be
configured; without it the engine logs to stderr and nothing is kept.`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug, info, warn, error)")
	logsCmd.Flags().StringVar(&logsInstance, "instance", "", "only entries for this instance id")
	logsCmd.Flags().StringVar(&logsWorkflow, "workflow", "", "only entries for this workflow (coding, review)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "only entries newer than this duration (e.g. 30m, 2h)")
	logsCmd.Flags().StringVar(&logsContains, "contains", "", "only entries whose message contains this text")
	logsCmd.Flags().StringVarP(&logsFormat, "format", "o", "text", "output format: text, json or csv")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 0, "only the last N entries after filtering")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Logging.Dir == "" {
		fmt.Println("File logging is disabled: set logging.dir to keep dispatch.log.")
		return nil
	}

	path := filepath.Join(cfg.Logging.Dir, logging.FileName)
	entries, err := logging.ReadLogFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	filter := logging.LogFilter{
		Level:           logsLevel,
		InstanceID:      logsInstance,
		Workflow:        logsWorkflow,
		MessageContains: logsContains,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.StartTime = time.Now().Add(-d)
	}

	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if len(entries) == 0 {
		fmt.Println("No matching log entries.")
		return nil
	}

	return logging.WriteLogEntries(os.Stdout, entries, logsFormat)
}

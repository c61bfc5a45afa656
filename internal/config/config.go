// Package config holds the engine configuration: a config.yaml under the
// user config directory, overridable through DISPATCH_ environment
// variables and CLI flags bound by the command layer.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete dispatch configuration.
type Config struct {
	Repo      RepoConfig      `mapstructure:"repo"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
	Tmux      TmuxConfig      `mapstructure:"tmux"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Control   ControlConfig   `mapstructure:"control"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	PR        PRConfig        `mapstructure:"pr"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RepoConfig locates the repository instances work against.
type RepoConfig struct {
	// Path to the repository root. Empty discovers it from the working
	// directory.
	Path string `mapstructure:"path"`
	// BaseBranch new instances fork from. Empty uses the repository
	// default branch.
	BaseBranch string `mapstructure:"base_branch"`
}

// WorktreeConfig controls where instance worktrees are created.
type WorktreeConfig struct {
	// BaseDir for per-instance worktrees. Empty uses
	// <repo>/.dispatch/worktrees.
	BaseDir string `mapstructure:"base_dir"`
}

// TmuxConfig sizes the sessions instances run in.
type TmuxConfig struct {
	Width        int `mapstructure:"width"`
	Height       int `mapstructure:"height"`
	HistoryLimit int `mapstructure:"history_limit"`
}

// AssistantConfig selects the assistant command typed into each session.
type AssistantConfig struct {
	Binary string   `mapstructure:"binary"`
	Args   []string `mapstructure:"args"`
	// PIDTimeoutSeconds bounds how long to wait for the assistant
	// process to appear after launch.
	PIDTimeoutSeconds int `mapstructure:"pid_timeout_seconds"`
}

// ControlConfig selects the control-protocol server binary launched
// alongside each instance.
type ControlConfig struct {
	Binary string `mapstructure:"binary"`
}

// GitHubConfig selects the gh CLI used for issues and pull requests.
type GitHubConfig struct {
	Binary string `mapstructure:"binary"`
}

// WorkflowConfig bounds workflow execution.
type WorkflowConfig struct {
	// MaxReviews caps review rounds per coding instance.
	MaxReviews int `mapstructure:"max_reviews"`
	// ReviewTimeoutMinutes is advisory metadata for review instances.
	ReviewTimeoutMinutes int `mapstructure:"review_timeout_minutes"`
	// ExecutionTimeoutHours is advisory metadata for coding instances.
	ExecutionTimeoutHours int `mapstructure:"execution_timeout_hours"`
}

// ReviewTimeout returns the review timeout as a duration.
func (c *WorkflowConfig) ReviewTimeout() time.Duration {
	return time.Duration(c.ReviewTimeoutMinutes) * time.Minute
}

// ExecutionTimeout returns the execution timeout as a duration.
func (c *WorkflowConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutHours) * time.Hour
}

// PRConfig controls pull request creation.
type PRConfig struct {
	// Draft opens PRs as drafts.
	Draft bool `mapstructure:"draft"`
	// Template is a Go text/template for the PR body. Empty uses the
	// built-in template.
	Template string `mapstructure:"template"`
	// Labels added to every PR.
	Labels []string `mapstructure:"labels"`
	// Reviewers controls automatic reviewer assignment.
	Reviewers ReviewerConfig `mapstructure:"reviewers"`
}

// ReviewerConfig maps changed paths to reviewers.
type ReviewerConfig struct {
	// Default reviewers requested on every PR.
	Default []string `mapstructure:"default"`
	// ByPath maps glob patterns over changed files to extra reviewers.
	ByPath map[string][]string `mapstructure:"by_path"`
}

// StoreConfig locates the instance database.
type StoreConfig struct {
	// Path to the SQLite file. Empty uses <configdir>/dispatch.db.
	Path string `mapstructure:"path"`
}

// LoggingConfig controls engine logging.
type LoggingConfig struct {
	// Level: debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Dir receives the JSON log file. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB rotates the log file past this size. Zero disables
	// rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated log files to keep.
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files.
	Compress bool `mapstructure:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Repo: RepoConfig{
			Path:       "",
			BaseBranch: "",
		},
		Worktree: WorktreeConfig{
			BaseDir: "",
		},
		Tmux: TmuxConfig{
			Width:        200,
			Height:       50,
			HistoryLimit: 10000,
		},
		Assistant: AssistantConfig{
			Binary:            "claude",
			Args:              nil,
			PIDTimeoutSeconds: 10,
		},
		Control: ControlConfig{
			Binary: "dispatch-mcp",
		},
		GitHub: GitHubConfig{
			Binary: "gh",
		},
		Workflow: WorkflowConfig{
			MaxReviews:            3,
			ReviewTimeoutMinutes:  30,
			ExecutionTimeoutHours: 24,
		},
		PR: PRConfig{
			Draft:    false,
			Template: "",
			Labels:   nil,
			Reviewers: ReviewerConfig{
				Default: nil,
				ByPath:  nil,
			},
		},
		Store: StoreConfig{
			Path: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers every key's default with viper so env and flag
// overrides see a complete key set.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("repo.path", defaults.Repo.Path)
	viper.SetDefault("repo.base_branch", defaults.Repo.BaseBranch)

	viper.SetDefault("worktree.base_dir", defaults.Worktree.BaseDir)

	viper.SetDefault("tmux.width", defaults.Tmux.Width)
	viper.SetDefault("tmux.height", defaults.Tmux.Height)
	viper.SetDefault("tmux.history_limit", defaults.Tmux.HistoryLimit)

	viper.SetDefault("assistant.binary", defaults.Assistant.Binary)
	viper.SetDefault("assistant.args", defaults.Assistant.Args)
	viper.SetDefault("assistant.pid_timeout_seconds", defaults.Assistant.PIDTimeoutSeconds)

	viper.SetDefault("control.binary", defaults.Control.Binary)

	viper.SetDefault("github.binary", defaults.GitHub.Binary)

	viper.SetDefault("workflow.max_reviews", defaults.Workflow.MaxReviews)
	viper.SetDefault("workflow.review_timeout_minutes", defaults.Workflow.ReviewTimeoutMinutes)
	viper.SetDefault("workflow.execution_timeout_hours", defaults.Workflow.ExecutionTimeoutHours)

	viper.SetDefault("pr.draft", defaults.PR.Draft)
	viper.SetDefault("pr.template", defaults.PR.Template)
	viper.SetDefault("pr.labels", defaults.PR.Labels)
	viper.SetDefault("pr.reviewers.default", defaults.PR.Reviewers.Default)
	viper.SetDefault("pr.reviewers.by_path", defaults.PR.Reviewers.ByPath)

	viper.SetDefault("store.path", defaults.Store.Path)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load unmarshals the current viper state and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user's dispatch config directory, honoring
// XDG_CONFIG_HOME.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dispatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dispatch"
	}
	return filepath.Join(home, ".config", "dispatch")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StorePath resolves the database location, falling back to the config
// directory.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(ConfigDir(), "dispatch.db")
}

// WorktreeBaseDir resolves where instance worktrees live for a given
// repository root.
func (c *Config) WorktreeBaseDir(repoDir string) string {
	if c.Worktree.BaseDir != "" {
		return c.Worktree.BaseDir
	}
	return filepath.Join(repoDir, ".dispatch", "worktrees")
}

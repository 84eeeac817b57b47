// Package config loads the employee.toml configuration file. Every
// tunable the lifecycle exposes lives here with a working default, so
// an empty file (or no file at all) yields a runnable setup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hammadnadeem/employeekit/scheduler"
)

// Duration wraps time.Duration so TOML files can say "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the full orchestrator configuration.
type Config struct {
	Vault      VaultConfig      `toml:"vault"`
	Worker     WorkerConfig     `toml:"worker"`
	Window     WindowConfig     `toml:"window"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Retry      RetryConfig      `toml:"retry"`
	Policy     PolicyConfig     `toml:"policy"`
	Notifier   NotifierConfig   `toml:"notifier"`
	Runner     RunnerConfig     `toml:"runner"`
}

// VaultConfig locates the durable task vault.
type VaultConfig struct {
	// Path is the vault root; stage directories live under it.
	Path string `toml:"path"`

	// ArchiveAfter is how long terminal descriptors stay in their
	// stage directory before compaction moves them to Archive.
	ArchiveAfter Duration `toml:"archive_after"`
}

// WorkerConfig identifies this orchestrator instance.
type WorkerConfig struct {
	// Name tags claims and history entries. Defaults to hostname-pid.
	Name string `toml:"name"`

	// PollInterval paces the service loop.
	PollInterval Duration `toml:"poll_interval"`
}

// WindowConfig is the business window gating non-urgent dispatch.
type WindowConfig struct {
	// Enabled turns the window on; when false every priority
	// dispatches around the clock.
	Enabled   bool     `toml:"enabled"`
	StartHour int      `toml:"start_hour"`
	EndHour   int      `toml:"end_hour"`
	Days      []string `toml:"days"`
	Timezone  string   `toml:"timezone"`
}

// SupervisorConfig bounds one supervised run.
type SupervisorConfig struct {
	MaxIterations int      `toml:"max_iterations"`
	WallClock     Duration `toml:"wall_clock"`
	ApprovalWait  Duration `toml:"approval_wait"`
}

// RetryConfig tunes the escalation controller.
type RetryConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	FaultThreshold int      `toml:"fault_threshold"`
	BaseBackoff    Duration `toml:"base_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// PolicyConfig points at the rules file and seeds the ledger.
type PolicyConfig struct {
	// RulesFile is an optional TOML rules file; defaults apply when
	// empty.
	RulesFile string `toml:"rules_file"`

	// KnownCounterparties pre-populates the counterparty ledger so
	// established contacts skip the first-contact gate.
	KnownCounterparties []string `toml:"known_counterparties"`
}

// NotifierConfig selects the notification backend.
type NotifierConfig struct {
	// Backend is "memory" or "nats".
	Backend string `toml:"backend"`

	// URL is the NATS server URL when backend is "nats".
	URL string `toml:"url"`
}

// RunnerConfig selects the executor working claimed tasks.
type RunnerConfig struct {
	// Kind is "command" or "anthropic".
	Kind string `toml:"kind"`

	// Command is the argv for the command runner.
	Command []string `toml:"command"`

	// StepTimeout bounds one command invocation.
	StepTimeout Duration `toml:"step_timeout"`

	// Model names the Anthropic model for the anthropic runner. The
	// API key comes from the ANTHROPIC_API_KEY environment variable.
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Default returns the configuration used when no file is given.
func Default() Config {
	name, err := os.Hostname()
	if err != nil {
		name = "orchestrator"
	}
	return Config{
		Vault: VaultConfig{
			Path:         "vault",
			ArchiveAfter: Duration{7 * 24 * time.Hour},
		},
		Worker: WorkerConfig{
			Name:         fmt.Sprintf("%s-%d", name, os.Getpid()),
			PollInterval: Duration{30 * time.Second},
		},
		Window: WindowConfig{
			Enabled:   false,
			StartHour: 9,
			EndHour:   17,
			Days:      []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
			Timezone:  "Local",
		},
		Supervisor: SupervisorConfig{
			MaxIterations: 25,
			WallClock:     Duration{30 * time.Minute},
			ApprovalWait:  Duration{10 * time.Minute},
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			FaultThreshold: 3,
			BaseBackoff:    Duration{time.Minute},
			MaxBackoff:     Duration{time.Hour},
		},
		Notifier: NotifierConfig{
			Backend: "memory",
		},
		Runner: RunnerConfig{
			Kind:        "command",
			Command:     []string{"employee-step"},
			StepTimeout: Duration{5 * time.Minute},
			MaxTokens:   4096,
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("config: vault.path is required")
	}
	if c.Worker.PollInterval.Duration <= 0 {
		return fmt.Errorf("config: worker.poll_interval must be positive")
	}
	if c.Supervisor.MaxIterations <= 0 {
		return fmt.Errorf("config: supervisor.max_iterations must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must not be negative")
	}
	if c.Retry.BaseBackoff.Duration > c.Retry.MaxBackoff.Duration {
		return fmt.Errorf("config: retry.base_backoff exceeds retry.max_backoff")
	}

	switch c.Notifier.Backend {
	case "memory":
	case "nats":
		if c.Notifier.URL == "" {
			return fmt.Errorf("config: notifier.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("config: unknown notifier backend %q", c.Notifier.Backend)
	}

	switch c.Runner.Kind {
	case "command":
		if len(c.Runner.Command) == 0 {
			return fmt.Errorf("config: runner.command is required for the command runner")
		}
	case "anthropic":
		if c.Runner.Model == "" {
			return fmt.Errorf("config: runner.model is required for the anthropic runner")
		}
	default:
		return fmt.Errorf("config: unknown runner kind %q", c.Runner.Kind)
	}

	if c.Window.Enabled {
		if _, err := c.Window.Build(); err != nil {
			return err
		}
	}
	return nil
}

// Build converts the window configuration into a scheduler window.
// A disabled window returns the zero value, which the scheduler treats
// as always open.
func (w WindowConfig) Build() (scheduler.Window, error) {
	if !w.Enabled {
		return scheduler.Window{}, nil
	}
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 1 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return scheduler.Window{}, fmt.Errorf("config: window hours %d-%d out of order", w.StartHour, w.EndHour)
	}

	var days []time.Weekday
	for _, name := range w.Days {
		day, ok := dayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return scheduler.Window{}, fmt.Errorf("config: unknown window day %q", name)
		}
		days = append(days, day)
	}

	loc := time.Local
	if w.Timezone != "" && w.Timezone != "Local" {
		parsed, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return scheduler.Window{}, fmt.Errorf("config: window timezone: %w", err)
		}
		loc = parsed
	}

	return scheduler.Window{
		StartHour: w.StartHour,
		EndHour:   w.EndHour,
		Days:      days,
		Location:  loc,
	}, nil
}

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for flatman. One config drives both
// the CLI control surface and the serve daemon; they share the database.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Database DatabaseConfig `toml:"database"`
	Repos    ReposConfig    `toml:"repos"`
	Build    BuildConfig    `toml:"build"`
	Queue    QueueConfig    `toml:"queue"`
	Sweep    SweepConfig    `toml:"sweep"`
}

// DatabaseConfig selects the metadata store backend.
// Tagged union: Type determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ReposConfig locates the OSTree repositories on disk.
type ReposConfig struct {
	BasePath    string `toml:"base_path"`    // published repositories live under here, one per Repository.Name
	StagingPath string `toml:"staging_path"` // shared build-staging repository
}

// BuildConfig holds build execution settings.
type BuildConfig struct {
	Workers       int      `toml:"workers"`         // worker pool size
	CloneTimeout  duration `toml:"clone_timeout"`   // git clone wall clock limit
	BuildTimeout  duration `toml:"build_timeout"`   // flatpak-builder wall clock limit
	ToolTimeout   duration `toml:"tool_timeout"`    // ostree/other short commands
	WorkDir       string   `toml:"work_dir"`        // parent for ephemeral build workspaces; empty means os.TempDir
	DefaultBranch string   `toml:"default_branch"`  // flatpak branch when none given
	DefaultArch   string   `toml:"default_arch"`
}

// QueueConfig selects the task queue backend.
type QueueConfig struct {
	Type  string   `toml:"type"`  // "sqlite" or "memory"
	Lease duration `toml:"lease"` // visibility timeout for claimed tasks
}

// SweepConfig drives the periodic reconciliation job.
type SweepConfig struct {
	Interval   duration `toml:"interval"`    // how often the sweep runs
	StaleAfter duration `toml:"stale_after"` // active attempts older than this with no progress are failed
}

// duration lets TOML carry values like "30m" or "2h15m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// CloneTimeoutOrDefault returns the configured clone timeout or 10 minutes.
func (c BuildConfig) CloneTimeoutOrDefault() time.Duration {
	if c.CloneTimeout > 0 {
		return c.CloneTimeout.Std()
	}
	return 10 * time.Minute
}

// BuildTimeoutOrDefault returns the configured build timeout or 30 minutes.
func (c BuildConfig) BuildTimeoutOrDefault() time.Duration {
	if c.BuildTimeout > 0 {
		return c.BuildTimeout.Std()
	}
	return 30 * time.Minute
}

// ToolTimeoutOrDefault returns the configured tool timeout or 5 minutes.
func (c BuildConfig) ToolTimeoutOrDefault() time.Duration {
	if c.ToolTimeout > 0 {
		return c.ToolTimeout.Std()
	}
	return 5 * time.Minute
}

// WorkersOrDefault returns the configured pool size or 2.
func (c BuildConfig) WorkersOrDefault() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 2
}

// LeaseOrDefault returns the configured task lease or 45 minutes. The
// lease must outlast the longest operation so in-progress tasks are not
// redelivered to a second worker.
func (c QueueConfig) LeaseOrDefault() time.Duration {
	if c.Lease > 0 {
		return c.Lease.Std()
	}
	return 45 * time.Minute
}

// IntervalOrDefault returns the configured sweep interval or 2 minutes.
func (c SweepConfig) IntervalOrDefault() time.Duration {
	if c.Interval > 0 {
		return c.Interval.Std()
	}
	return 2 * time.Minute
}

// StaleAfterOrDefault returns the configured staleness threshold or 90
// minutes — a generous multiple of the build timeout, so the sweep only
// fires on attempts whose worker is gone.
func (c SweepConfig) StaleAfterOrDefault() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter.Std()
	}
	return 90 * time.Minute
}

// NewConfig creates a Config rooted at baseDir with default paths.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Repos: ReposConfig{
			BasePath:    filepath.Join(baseDir, "repos"),
			StagingPath: filepath.Join(baseDir, "repos", "build-repo"),
		},
		Build: BuildConfig{
			Workers:       2,
			CloneTimeout:  duration(10 * time.Minute),
			BuildTimeout:  duration(30 * time.Minute),
			ToolTimeout:   duration(5 * time.Minute),
			DefaultBranch: "stable",
			DefaultArch:   "x86_64",
		},
		Queue: QueueConfig{
			Type:  "sqlite",
			Lease: duration(45 * time.Minute),
		},
		Sweep: SweepConfig{
			Interval:   duration(2 * time.Minute),
			StaleAfter: duration(90 * time.Minute),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

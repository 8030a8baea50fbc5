package config

import (
	"path/filepath"
	"time"

	"github.com/openfroyo/rancherhost/pkg/telemetry"
)

// DefaultPath is read when it exists and no --config is given.
const DefaultPath = "/etc/rancher-host/rancherhost.yaml"

// Settings are the process-level options of rancherhost. They are distinct
// from attributes: settings say how to run, attributes say what the host
// should look like.
type Settings struct {
	// AttributeFiles are merged over the defaults in order.
	AttributeFiles []string `mapstructure:"attribute_files" json:"attribute_files"`

	// Overrides are path=value attribute assignments applied last.
	Overrides []string `mapstructure:"set" json:"set"`

	// RunList replaces the run_list attribute when set.
	RunList []string `mapstructure:"run_list" json:"run_list"`

	// Root prefixes every host path. Used for staging and tests.
	Root string `mapstructure:"root" json:"root"`

	// StateDB is the run history database. Empty disables history.
	StateDB string `mapstructure:"state_db" json:"state_db"`

	// KeepRuns bounds the history after each run. Zero keeps everything.
	KeepRuns int `mapstructure:"keep_runs" json:"keep_runs"`

	// Policies are Rego files or directories loaded over the built-ins.
	Policies []string `mapstructure:"policies" json:"policies"`

	DownloadRetries int  `mapstructure:"download_retries" json:"download_retries"`
	ManageOwnership bool `mapstructure:"manage_ownership" json:"manage_ownership"`

	LogLevel        string `mapstructure:"log_level" json:"log_level"`
	TraceExporter   string `mapstructure:"trace_exporter" json:"trace_exporter"`
	OTLPEndpoint    string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	MetricsTextfile string `mapstructure:"metrics_textfile" json:"metrics_textfile"`
	MetricsListen   string `mapstructure:"metrics_listen" json:"metrics_listen"`

	// WatchDebounce coalesces bursts of file events in watch mode.
	WatchDebounce time.Duration `mapstructure:"watch_debounce" json:"watch_debounce"`

	// Source is the config file the settings were read from, if any.
	Source string `mapstructure:"-" json:"-"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"attribute_files":  []string{},
		"set":              []string{},
		"run_list":         []string{},
		"root":             "",
		"state_db":         "/var/lib/rancher-host/history.db",
		"keep_runs":        100,
		"policies":         []string{},
		"download_retries": 3,
		"manage_ownership": true,
		"log_level":        "info",
		"trace_exporter":   "none",
		"otlp_endpoint":    "localhost:4317",
		"metrics_textfile": "",
		"metrics_listen":   "",
		"watch_debounce":   "2s",
	}
}

// StateDBPath returns the history database path under Root.
func (s *Settings) StateDBPath() string {
	if s.StateDB == "" || s.Root == "" {
		return s.StateDB
	}
	return filepath.Join(s.Root, s.StateDB)
}

// Telemetry builds the telemetry configuration for a run.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.LogLevel
	cfg.Metrics.TextfilePath = s.MetricsTextfile
	cfg.Metrics.ListenAddress = s.MetricsListen
	if s.TraceExporter != "" && s.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = s.TraceExporter
		cfg.Tracing.Endpoint = s.OTLPEndpoint
	}
	return cfg
}

// Package config loads the process settings of rancherhost: where attribute
// and policy files live, where run history is kept and how telemetry is
// exported.
//
// Settings are layered with viper, lowest precedence first:
//
//   - built-in Defaults
//   - a config file (--config, or DefaultPath when it exists)
//   - RANCHERHOST_* environment variables
//   - command-line flags
//
// The merged result is validated against a CUE schema before use.
//
//	# /etc/rancher-host/rancherhost.yaml
//	attribute_files: [site.yaml, role.star]
//	policies: [policies/]
//	keep_runs: 50
//	trace_exporter: otlp
//	otlp_endpoint: collector:4317
//
// Relative attribute and policy paths in a config file resolve against the
// file's directory.
package config

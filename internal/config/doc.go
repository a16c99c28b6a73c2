// Package config loads and watches the lbwatch configuration file.
//
// Top-level types:
//   - Config{Agent, HTTP, Publish} - full config tree parsed from YAML
//   - AgentConfig - agent port, request timeout, print_threshold,
//     poll_interval, log_level, secret, targets []
//   - Target - host plus the proxy names to watch on it
//   - SecretConfig - env | file; Value() resolves the cluster secret
//   - HTTPConfig, PublishConfig - local status API and Redis publishing
//
// Load(path) reads the YAML file, applies defaults (port 4378, 30s timeout,
// threshold 10, 15s poll) and validates required fields.
//
// Watch(ctx, path, onChange) uses fsnotify to reload the file on change and
// re-adds the watch after atomic-save renames.
package config

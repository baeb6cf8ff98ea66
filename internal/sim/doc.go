// Package sim replays scenario files against the navigation manager.
//
// A scenario names a scripts directory, a platform and a list of navigation
// steps. Steps carry their HTML inline or fetch it from the live URL, and may
// advance virtual time or run privileged executions afterwards. Scenarios
// are read from TOML, YAML or JSON by file extension; results are written
// as JSON or YAML.
package sim

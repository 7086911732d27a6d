// Package config provides zerometa configuration from environment variables.
//
// # Overview
//
// LoadConfig reads every setting from the environment, applies defaults and
// validates the result. Command line flags override these values in the CLI.
//
// # Configuration Structure
//
// Layer settings:
//
//	ZEROMETA_LAYERS_DIR="layers"
//	ZEROMETA_DISCOVERY_WORKERS="4"
//	ZEROMETA_WATCH_DELAY="500ms"
//
// Sandbox settings:
//
//	ZEROMETA_SANDBOX_ROOT=""          # defaults to $TMPDIR/zerometa
//	ZEROMETA_POLICY_FILE="/etc/zerometa/policy.yaml"
//	ZEROMETA_AUDIT_LOG="/var/log/zerometa/audit.jsonl"
//	ZEROMETA_ENFORCE_LIMITS="false"   # apply memory ceilings on Linux
//
// Observability settings:
//
//	ZEROMETA_LOG_LEVEL="info"         # debug, info, warn, error
//	ZEROMETA_METRICS_ADDR=":9090"     # empty disables the metrics server
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	registry := layers.NewRegistry(logger)
//	registry.SetDiscoveryWorkers(cfg.Layers.DiscoveryWorkers)
//	err = registry.Discover(cfg.Layers.Dir)
//
// # Related Packages
//
//   - pkg/layers: Uses layers configuration
//   - pkg/sandbox: Uses sandbox configuration
//   - pkg/observability: Uses observability configuration
package config

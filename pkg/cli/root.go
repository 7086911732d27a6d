package cli

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/zerometa/pkg/config"
	"github.com/platinummonkey/zerometa/pkg/layers"
	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/platinummonkey/zerometa/pkg/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	layersDir     string
	sandboxRoot   string
	policyFile    string
	auditLog      string
	enforceLimits bool
	logLevel      string
	metricsAddr   string
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "zerometa",
		Short: "zerometa - a layer manager for pluggable native extensions",
		Long: `zerometa installs, discovers, loads and sandboxes layers: independently
versioned extension units made of a manifest and optional native code.`,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.layersDir, "layers-dir", "", "Layers directory (env ZEROMETA_LAYERS_DIR)")
	flags.StringVar(&opts.sandboxRoot, "sandbox-root", "", "Parent of sandbox working directories (env ZEROMETA_SANDBOX_ROOT)")
	flags.StringVar(&opts.policyFile, "policy", "", "YAML sandbox permission policy (env ZEROMETA_POLICY_FILE)")
	flags.StringVar(&opts.auditLog, "audit-log", "", "Append sandbox decisions to this file (env ZEROMETA_AUDIT_LOG)")
	flags.BoolVar(&opts.enforceLimits, "enforce-limits", false, "Apply memory ceilings to sandboxed processes (env ZEROMETA_ENFORCE_LIMITS)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (env ZEROMETA_LOG_LEVEL)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (env ZEROMETA_METRICS_ADDR)")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newInstallCommand(opts))
	cmd.AddCommand(newUninstallCommand(opts))
	cmd.AddCommand(newEnableCommand(opts, true))
	cmd.AddCommand(newEnableCommand(opts, false))
	cmd.AddCommand(newLoadCommand(opts))
	cmd.AddCommand(newExecCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// loadConfig reads the environment and applies the flags that were set
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("layers-dir") {
		cfg.Layers.Dir = o.layersDir
	}
	if flags.Changed("sandbox-root") {
		cfg.Sandbox.Root = o.sandboxRoot
	}
	if flags.Changed("policy") {
		cfg.Sandbox.PolicyFile = o.policyFile
	}
	if flags.Changed("audit-log") {
		cfg.Sandbox.AuditLog = o.auditLog
	}
	if flags.Changed("enforce-limits") {
		cfg.Sandbox.EnforceLimits = o.enforceLimits
	}
	if flags.Changed("log-level") {
		cfg.Observability.LogLevel = o.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Observability.MetricsAddr = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app wires the layer manager components for one command invocation
type app struct {
	cfg          *config.Config
	log          *logrus.Logger
	promRegistry *prometheus.Registry
	metrics      *observability.Metrics
	registry     *layers.MemoryRegistry
	installer    *layers.Installer
	loader       *layers.Loader
	sandboxes    *sandbox.Manager
	policy       *sandbox.Policy
	audit        *sandbox.AuditLogger
}

// open builds the components and discovers the layers directory
func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, cmd.ErrOrStderr())

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	registry := layers.NewRegistry(log)
	registry.SetDiscoveryWorkers(cfg.Layers.DiscoveryWorkers)
	registry.SetMetrics(metrics)

	installer := layers.NewInstaller(cfg.Layers.Dir, log)
	installer.SetRegistry(registry)
	installer.SetMetrics(metrics)

	loader := layers.NewLoader(log)
	loader.SetRegistry(registry)
	loader.SetMetrics(metrics)

	sandboxes := sandbox.NewManager(cfg.Sandbox.Root, log)
	sandboxes.SetMetrics(metrics)
	sandboxes.SetResourceLimits(cfg.Sandbox.EnforceLimits)

	a := &app{
		cfg:          cfg,
		log:          log,
		promRegistry: promRegistry,
		metrics:      metrics,
		registry:     registry,
		installer:    installer,
		loader:       loader,
		sandboxes:    sandboxes,
	}

	if cfg.Sandbox.PolicyFile != "" {
		policy, err := sandbox.LoadPolicy(cfg.Sandbox.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		a.policy = policy
	}

	if cfg.Sandbox.AuditLog != "" {
		audit, err := sandbox.NewAuditLogger(cfg.Sandbox.AuditLog)
		if err != nil {
			return nil, err
		}
		a.audit = audit
		sandboxes.SetAuditLogger(audit)
	}

	if err := registry.Discover(cfg.Layers.Dir); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to discover layers: %w", err)
	}

	return a, nil
}

// Close unloads every loaded layer and closes the audit log
func (a *app) Close() error {
	return errors.Join(a.loader.Close(), a.audit.Close())
}

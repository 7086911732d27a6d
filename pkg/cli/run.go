package cli

import (
	"fmt"

	"github.com/platinummonkey/zerometa/pkg/layers"
	"github.com/platinummonkey/zerometa/pkg/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newLoadCommand(opts *rootOptions) *cobra.Command {
	var enabled bool

	cmd := &cobra.Command{
		Use:   "load [id...]",
		Short: "Load layers and call their entry points",
		Long: `Load the native code of the given layers, or of every enabled layer with
--enabled, and call each layer's initialization entry point.

Native code runs inside this process with its full privileges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if enabled == (len(args) > 0) {
				return fmt.Errorf("pass layer IDs or --enabled, not both or neither")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if enabled {
				if err := a.loader.LoadEnabled(); err != nil {
					return err
				}
			} else {
				for _, id := range args {
					if err := a.loader.LoadByID(id); err != nil {
						return err
					}
				}
			}

			for _, loaded := range a.loader.Layers() {
				native := "no native code"
				if loaded.HasLibrary() {
					native = loaded.LibraryPath()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s (%s): %s\n", loaded.Layer().ID, loaded.State(), native)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", false, "Load every enabled layer")
	return cmd
}

// ExitError reports a sandboxed command that ran but exited non-zero
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

func newExecCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <id> -- <command> [args...]",
		Short: "Run a command in a layer's sandbox",
		Long: `Run a command with the layer's sandbox working directory as its current
directory. The command and every argument starting with /, ./ or ~/ must be
inside the working directory or a path allowed by the layer's policy.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			layer, err := a.registry.Get(args[0])
			if err != nil {
				return err
			}

			sb, err := a.sandboxes.Create(layer, a.policy.For(layer.ID))
			if err != nil {
				return err
			}
			defer func() {
				if err := a.sandboxes.Remove(layer.ID); err != nil {
					a.log.Warnf("Failed to remove sandbox for %s: %v", layer.ID, err)
				}
			}()

			output, err := sb.Execute(cmd.Context(), args[1], args[2:]...)
			if err != nil {
				return err
			}

			if _, err := cmd.OutOrStdout().Write(output.Stdout); err != nil {
				return err
			}
			if _, err := cmd.ErrOrStderr().Write(output.Stderr); err != nil {
				return err
			}

			if !output.Success() {
				return &ExitError{Code: output.ExitCode}
			}
			return nil
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load enabled layers and follow changes to the layers directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.loader.LoadEnabled(); err != nil {
				a.log.Warnf("Some layers failed to load: %v", err)
			}

			g, ctx := errgroup.WithContext(cmd.Context())

			watcher := layers.NewWatcher(a.registry, a.cfg.Layers.Dir, a.cfg.Layers.WatchDelay, a.log)
			g.Go(func() error {
				defer observability.RecoverPanic(a.log, "layer watcher")
				return watcher.Run(ctx)
			})

			if addr := a.cfg.Observability.MetricsAddr; addr != "" {
				g.Go(func() error {
					return observability.ServeMetrics(ctx, addr, a.promRegistry, a.log)
				})
			}

			return g.Wait()
		},
	}
}

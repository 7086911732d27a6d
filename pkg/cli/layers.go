package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/platinummonkey/zerometa/pkg/layers"
	"github.com/spf13/cobra"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.registry.List()
			if err != nil {
				return err
			}

			if asJSON {
				return writeLayersJSON(cmd, all)
			}
			if err := writeLayersTable(cmd, all); err != nil {
				return err
			}
			if total := a.registry.Count(); total > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d layers (%d enabled)\n", total, countEnabled(all))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

// listedLayer is the JSON shape of list output; unlike the manifest it includes the path
type listedLayer struct {
	layers.Layer
	Path string `json:"path"`
}

func writeLayersJSON(cmd *cobra.Command, all []layers.Layer) error {
	out := make([]listedLayer, 0, len(all))
	for _, layer := range all {
		out = append(out, listedLayer{Layer: layer, Path: layer.Path})
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func writeLayersTable(cmd *cobra.Command, all []layers.Layer) error {
	if len(all) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No layers installed")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tENABLED\tDESCRIPTION")
	for _, layer := range all {
		enabled := "no"
		if layer.Enabled {
			enabled = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", layer.ID, layer.Name, layer.Version, enabled, layer.Description)
	}
	return w.Flush()
}

func countEnabled(all []layers.Layer) int {
	n := 0
	for _, layer := range all {
		if layer.Enabled {
			n++
		}
	}
	return n
}

func newInstallCommand(opts *rootOptions) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "install <dir|archive>",
		Short: "Install a layer from a directory or archive",
		Long: `Install a layer from a directory containing manifest.json, or from a
.tar.gz, .tar.zst or .zip archive holding the layer at its root or in a single
top level directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			layer, err := a.installer.InstallFromFile(args[0], overwrite)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s v%s at %s\n", layer.ID, layer.Version, layer.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing installation")
	return cmd
}

func newUninstallCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove an installed layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			layer, err := a.installer.Uninstall(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s v%s\n", layer.ID, layer.Version)
			return nil
		},
	}
}

// newEnableCommand builds enable or disable. The flag is persisted to the
// manifest since the registry only lives as long as the command.
func newEnableCommand(opts *rootOptions, enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a layer"
	if !enable {
		use, short = "disable <id>", "Disable a layer"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The enabled flag is saved by rewriting the layer's manifest.json. Comments and
trailing commas in the manifest are not preserved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			if enable {
				err = a.registry.Enable(id)
			} else {
				err = a.registry.Disable(id)
			}
			if err != nil {
				return err
			}

			layer, err := a.registry.Get(id)
			if err != nil {
				return err
			}
			if err := layers.SaveManifest(&layer, layer.Path); err != nil {
				return err
			}

			state := "enabled"
			if !enable {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Layer %s %s\n", id, state)
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/cadplug/pkg/packager"
)

func newPackageCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "package [dir]",
		Short: "Package a built plugin into a .cadplugin archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := packager.New(a.logger).Package(cmd.Context(), projectDir(args), output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Packaged %s %s -> %s (%d bytes, sha256 %s)\n",
				result.Metadata.ID, result.Metadata.Version, result.Path, result.Size, result.Checksum)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <id>-<version>.cadplugin in the project directory)")
	return cmd
}

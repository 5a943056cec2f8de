package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/cadplug/pkg/plugins"
)

func newValidateCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate <dir|archive>",
		Short: "Validate a plugin project directory or package archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := plugins.NewVerifier(a.logger).Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printPackageResult(cmd.OutOrStdout(), result)
			}

			if !result.Valid {
				return fmt.Errorf("%s failed validation with %d problem(s)", args[0], len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newLintManifestCommand(_ *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lint-manifest <plugin.json>",
		Short: "Check a plugin manifest against the manifest schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}

			result := plugins.ValidateManifest(data)
			switch {
			case asJSON:
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			case result.Valid:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			default:
				for _, msg := range result.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], msg)
				}
			}

			if !result.Valid {
				return fmt.Errorf("%s has %d problem(s)", args[0], len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printPackageResult(w io.Writer, result *plugins.PackageValidationResult) {
	status := "valid"
	if !result.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "%s (%s): %s\n", result.Path, result.Mode, status)
	if result.Manifest != nil {
		fmt.Fprintf(w, "  plugin:   %s %s\n", result.Manifest.ID, result.Manifest.Version)
	}
	if result.Mode == plugins.ModeArchive {
		fmt.Fprintf(w, "  stage:    %s\n", result.Stage)
		if result.Checksum != "" {
			fmt.Fprintf(w, "  checksum: %s\n", result.Checksum)
		}
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(w, "  - %s\n", msg)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

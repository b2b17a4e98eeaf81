package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagepack/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format string
		short  bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for pagepack including the release
version, git commit, build time, Go version and target platform.

Examples:
  pagepack version                 # Show detailed version info
  pagepack version --short         # Show short version
  pagepack version --format json   # Output as JSON`,
		Args: cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(version.GetBuildInfo())
			case "yaml":
				encoder := yaml.NewEncoder(out)
				defer encoder.Close()
				return encoder.Encode(version.GetBuildInfo())
			case "text":
				if short {
					_, err := fmt.Fprintln(out, version.GetShortVersion())
					return err
				}
				_, err := fmt.Fprintln(out, "pagepack\n"+version.GetDetailedVersion())
				return err
			}
			return validateFormat(format, []string{"text", "json", "yaml"})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")
	cmd.Flags().BoolVar(&short, "short", false, "Show short version only")
	return cmd
}

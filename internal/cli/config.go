package cli

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after all layers and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			cfg, _, err := loadConfig(rootOpts, f.errWriter())
			if err != nil {
				return f.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return f.Fail(ExitCommandError, CodeConfig, "failed to encode config", err)
			}
			return f.Success(cfg, func(w io.Writer) { w.Write(data) })
		},
	})

	return cmd
}

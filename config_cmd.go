package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(os.Stdout, cc.Cfg)
			}

			cc.Statusf("# effective configuration (file: %s)\n", cc.CfgPath)

			return config.RenderEffective(cc.Cfg, os.Stdout)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a commented config file with default values",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			path := cc.Flags.ConfigPath
			if path == "" {
				path = config.ReadEnvOverrides().ConfigPath
			}

			if path == "" {
				path = config.DefaultConfigPath()
			}

			if err := config.WriteTemplate(path); err != nil {
				return err
			}

			cc.Statusf("Wrote %s\n", path)

			return nil
		},
	}
}

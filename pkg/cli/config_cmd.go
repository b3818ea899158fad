package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigSetProfileCmd(opts))
	cmd.AddCommand(newConfigUseProfileCmd(opts))

	return cmd
}

func newConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "No configuration found at %s\n", ConfigPath())
				return err
			}
			if opts.output == "json" {
				return printJSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, _ = fmt.Fprint(os.Stdout, string(data))
			return nil
		},
	}
}

func newConfigSetProfileCmd(opts *options) *cobra.Command {
	var (
		name string
		p    Profile
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("default-output") {
				if err := validateOutputFormat(p.Output); err != nil {
					return err
				}
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
			}

			cur := cfg.Profiles[name]
			set := func(flag string, dst *string, v string) {
				if cmd.Flags().Changed(flag) {
					*dst = v
				}
			}
			set("set-coord-dir", &cur.CoordDir, p.CoordDir)
			set("set-meta-db", &cur.MetaDB, p.MetaDB)
			set("set-data-dir", &cur.DataDir, p.DataDir)
			set("set-org", &cur.Org, p.Org)
			set("default-output", &cur.Output, p.Output)
			cfg.Profiles[name] = cur

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&p.CoordDir, "set-coord-dir", "", "Coordination store directory")
	cmd.Flags().StringVar(&p.MetaDB, "set-meta-db", "", "Metadata SQLite file")
	cmd.Flags().StringVar(&p.DataDir, "set-data-dir", "", "Write-ahead file directory")
	cmd.Flags().StringVar(&p.Org, "set-org", "", "Default organization")
	cmd.Flags().StringVar(&p.Output, "default-output", "", "Default output format")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newConfigUseProfileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Active profile set to %q\n", name)
			return nil
		},
	}
}

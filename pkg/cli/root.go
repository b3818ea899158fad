// Package cli implements ingestctl, the operator CLI of the log ingestion
// server. Commands work directly on the local coordination store directory,
// so they must not run while a server holds the same directory open.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// options are the resolved persistent flags shared by all commands.
type options struct {
	coordDir string
	metaDB   string
	dataDir  string
	org      string
	output   string
	profile  string
	verbose  bool
}

func (o *options) logger() *slog.Logger {
	if !o.verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "ingestctl",
		Short:         "Log ingestion operator CLI",
		Long:          "Manage transforms and ingest files against a local log ingestion data directory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Config file is optional
			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
			}
			p, err := cfg.ActiveProfile(opts.profile)
			if err != nil && opts.profile != "" {
				return err
			}

			// Apply precedence: flag > env > profile > default
			resolve(cmd, "coord-dir", &opts.coordDir, "COORD_DB_PATH", p.CoordDir)
			resolve(cmd, "meta-db", &opts.metaDB, "META_DB_PATH", p.MetaDB)
			resolve(cmd, "data-dir", &opts.dataDir, "DATA_DIR", p.DataDir)
			resolve(cmd, "org", &opts.org, "INGEST_ORG", p.Org)
			resolve(cmd, "output", &opts.output, "INGEST_OUTPUT", p.Output)

			return validateOutputFormat(opts.output)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.coordDir, "coord-dir", "data/coord", "Coordination store directory")
	rootCmd.PersistentFlags().StringVar(&opts.metaDB, "meta-db", "ingest_meta.sqlite", "Metadata SQLite file")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "data/wal", "Write-ahead file directory")
	rootCmd.PersistentFlags().StringVar(&opts.org, "org", "default", "Organization")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(newVersionCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newFunctionsCmd(opts))
	rootCmd.AddCommand(newIngestCmd(opts))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func resolve(cmd *cobra.Command, flag string, dst *string, env, profile string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	} else if profile != "" {
		*dst = profile
	}
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}

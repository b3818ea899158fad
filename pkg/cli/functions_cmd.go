package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"log-ingest/internal/coord"
	"log-ingest/internal/domain"
	"log-ingest/internal/service/functions"
	"log-ingest/internal/service/transform"
)

// Manifest is the file format accepted by "functions apply".
type Manifest struct {
	Org       string             `yaml:"org"`
	Functions []domain.Transform `yaml:"functions"`
}

// LoadManifest reads and decodes a transform manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// withFunctionStore opens the coordination store for the duration of fn.
func withFunctionStore(opts *options, fn func(*functions.Store) error) error {
	logger := opts.logger()
	cs, err := coord.Open(coord.Config{Path: opts.coordDir, SyncWrites: true, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = cs.Close() }()
	return fn(functions.NewStore(cs, transform.NewRuntime(transform.Config{}, logger), logger))
}

func newFunctionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "functions",
		Aliases: []string{"fn"},
		Short:   "Manage transforms",
	}

	cmd.AddCommand(newFunctionsApplyCmd(opts))
	cmd.AddCommand(newFunctionsListCmd(opts))
	cmd.AddCommand(newFunctionsGetCmd(opts))
	cmd.AddCommand(newFunctionsDeleteCmd(opts))
	cmd.AddCommand(newFunctionsResetCmd(opts))

	return cmd
}

func newFunctionsApplyCmd(opts *options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or replace transforms from a YAML manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := LoadManifest(file)
			if err != nil {
				return err
			}
			org := opts.org
			if m.Org != "" && !cmd.Flags().Changed("org") {
				org = m.Org
			}

			applied := make([]string, 0, len(m.Functions))
			err = withFunctionStore(opts, func(s *functions.Store) error {
				for _, t := range m.Functions {
					if err := s.Set(cmd.Context(), org, t.Name, t); err != nil {
						return fmt.Errorf("apply %q: %w", t.Name, err)
					}
					applied = append(applied, t.Name)
				}
				return nil
			})
			if opts.output == "json" {
				if perr := printJSON(map[string]any{"org": org, "applied": applied}); perr != nil {
					return perr
				}
				return err
			}
			for _, name := range applied {
				_, _ = fmt.Fprintf(os.Stdout, "function %q applied to %s\n", name, org)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Manifest file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newFunctionsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the transforms of an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []domain.Transform
			if err := withFunctionStore(opts, func(s *functions.Store) error {
				var err error
				list, err = s.List(cmd.Context(), opts.org)
				return err
			}); err != nil {
				return err
			}
			if list == nil {
				list = []domain.Transform{}
			}
			if opts.output == "json" {
				return printJSON(domain.FunctionList{List: list})
			}
			rows := make([][]string, 0, len(list))
			for _, t := range list {
				rows = append(rows, []string{t.Name, t.TransType.String(), t.Params, formatBindings(t.Streams)})
			}
			return printTable([]string{"name", "engine", "params", "streams"}, rows)
		},
	}
}

func newFunctionsGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show one transform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t domain.Transform
			if err := withFunctionStore(opts, func(s *functions.Store) error {
				var err error
				t, err = s.Get(cmd.Context(), opts.org, args[0])
				return err
			}); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(t)
			}
			data, err := yaml.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal transform: %w", err)
			}
			_, _ = fmt.Fprint(os.Stdout, string(data))
			return nil
		},
	}
}

func newFunctionsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a transform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := withFunctionStore(opts, func(s *functions.Store) error {
				return s.Delete(cmd.Context(), opts.org, args[0])
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "function %q deleted\n", args[0])
			return nil
		},
	}
}

func newFunctionsResetCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove every stored transform of every organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset removes all transforms; pass --yes to confirm")
			}
			if err := withFunctionStore(opts, func(s *functions.Store) error {
				return s.Reset(cmd.Context())
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, "all functions removed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")

	return cmd
}

func formatBindings(streams []domain.StreamOrder) string {
	if len(streams) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(streams))
	for _, s := range streams {
		st := s.StreamType
		if st == "" {
			st = domain.StreamTypeLogs
		}
		parts = append(parts, st.String()+"/"+s.Stream+"#"+strconv.Itoa(int(s.Order)))
	}
	return strings.Join(parts, ",")
}

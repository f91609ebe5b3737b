package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/namedquery/internal/cli/ui"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(opts *globalOptions) *cobra.Command {
	var compile bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and check every query source",
		Long: `Load every query source under mapping.paths and check the declarations:
unique names, valid parameter types and fetch references that resolve
without cycles.

With --compile every template is parsed as well.

Examples:
  namedquery validate
  namedquery validate --compile
  namedquery validate -c staging.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			order := a.registry.DependencyOrder()
			if compile {
				var failed int
				for _, name := range order {
					if _, err := a.engine.Compiler().Compile(name); err != nil {
						failed++
						fmt.Fprint(cmd.ErrOrStderr(), ui.QueryError(err, nil, opts.noColor))
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d templates failed to compile", failed, len(order))
				}
			}

			kv := ui.NewKeyValueTable(out, opts.noColor)
			kv.AddRow("Sources", strings.Join(a.config.Mapping.Paths, ", "))
			kv.AddRow("Queries", strconv.Itoa(a.registry.Len()))
			kv.AddRow("Order", strings.Join(order, " → "))
			kv.Render()

			msg := fmt.Sprintf("%d queries valid", a.registry.Len())
			if compile {
				msg = fmt.Sprintf("%d queries valid, all templates compiled", a.registry.Len())
			}
			ui.WriteSuccess(out, msg, opts.noColor)
			return nil
		},
	}

	cmd.Flags().BoolVar(&compile, "compile", false, "Also parse every template")
	return cmd
}

// NewListCommand creates the list command
func NewListCommand(opts *globalOptions) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered queries",
		Long: `List the registered queries with their parameters and fetch queries.

Examples:
  namedquery list
  namedquery list --prefix Order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			table := ui.NewTable(cmd.OutOrStdout(), []string{"Name", "Parameters", "Fetches", "Cache", "Source"}, opts.noColor)
			for _, def := range a.registry.Search(prefix) {
				var params []string
				for name, t := range def.Parameters {
					params = append(params, name+":"+t.String())
				}
				sort.Strings(params)
				cache := ""
				if def.Cache {
					cache = "yes"
				}
				table.AddRow(def.VersionedName(), strings.Join(params, ", "), strings.Join(def.FetchQueryNames(), ", "), cache, def.Source)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list names starting with prefix")
	return cmd
}

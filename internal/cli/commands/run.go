package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/namedquery/internal/cli/ui"
	"github.com/conduit-lang/namedquery/internal/query/engine"
)

// prompter is swapped out by tests
var prompter ui.Prompter = ui.SurveyPrompter{}

// callOptions are the flags shared by render and run
type callOptions struct {
	params      paramFlags
	interactive bool
}

func (c *callOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&c.params.pairs, "param", "p", nil, "Parameter as key=value, repeat a key for a list")
	cmd.Flags().StringVar(&c.params.raw, "params", "", "Parameters as a JSON object")
	cmd.Flags().BoolVarP(&c.interactive, "interactive", "i", false, "Prompt for each declared parameter")
}

// resolve returns the call parameters, prompting for them when interactive
func (c *callOptions) resolve(a *app, name string) (map[string]interface{}, error) {
	params, err := c.params.parse()
	if err != nil {
		return nil, err
	}
	if !c.interactive {
		return params, nil
	}
	def, err := a.registry.Get(name)
	if err != nil {
		return nil, err
	}
	asked, err := ui.AskParams(prompter, def.Parameters)
	if err != nil {
		return nil, err
	}
	for k, v := range asked {
		params[k] = v
	}
	return params, nil
}

// NewRenderCommand creates the render command
func NewRenderCommand(opts *globalOptions) *cobra.Command {
	call := &callOptions{}

	cmd := &cobra.Command{
		Use:   "render <query>",
		Short: "Render a query without executing it",
		Long: `Render a query template with parameters and print the resulting script
and positional arguments. Nothing is sent to the backend.

Examples:
  namedquery render Order -p status=OPEN
  namedquery render Order --params '{"status": "OPEN"}'
  namedquery render Order --interactive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			params, err := call.resolve(a, name)
			if err != nil {
				return reportQueryError(cmd, a, opts, err)
			}
			q, err := a.engine.Render(name, params)
			if err != nil {
				return reportQueryError(cmd, a, opts, err)
			}

			out := cmd.OutOrStdout()
			kv := ui.NewKeyValueTable(out, opts.noColor)
			kv.AddRow("Query", q.Name())
			kv.AddRow("Args", fmt.Sprintf("%v", q.Args()))
			kv.Render()
			fmt.Fprintln(out)
			fmt.Fprintln(out, q.Script())
			return nil
		},
	}

	call.register(cmd)
	return cmd
}

// NewRunCommand creates the run command
func NewRunCommand(opts *globalOptions) *cobra.Command {
	call := &callOptions{}
	var op, output string

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Execute a query and print its rows",
		Long: `Execute a query against the configured backend, resolve its fetch
queries and print the result.

Operations:
  select   all rows (default)
  get      the first row
  page     one window with the total count, using _offset and _limit
  forward  one window and whether more rows follow
  search     the raw search response, printed as JSON (document engine)
  aggregate  the aggregations of the search response (document engine)

Examples:
  namedquery run Order -p status=OPEN
  namedquery run Order --op page -p status=OPEN -p _limit=10
  namedquery run Order --op get -p status=OPEN --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "table", "json":
			default:
				return fmt.Errorf("--output must be table or json, got %s", output)
			}

			a, err := newApp(cmd.Context(), opts, appOptions{backend: true, cache: true})
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			params, err := call.resolve(a, name)
			if err != nil {
				return reportQueryError(cmd, a, opts, err)
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			var (
				result interface{}
				rows   []map[string]interface{}
				footer string
				raw    bool
			)
			switch op {
			case engine.OpSelect:
				rows, err = a.engine.Select(ctx, name, params)
				result = rows
			case engine.OpGet:
				var row map[string]interface{}
				row, err = a.engine.Get(ctx, name, params)
				result = row
				if row != nil {
					rows = []map[string]interface{}{row}
				}
			case engine.OpPage:
				var page *engine.PagedList
				page, err = a.engine.Page(ctx, name, params)
				if page != nil {
					result, rows = page, page.Rows
					footer = fmt.Sprintf("rows %d-%d of %d", page.Offset+1, page.Offset+len(page.Rows), page.Total)
				}
			case engine.OpForward:
				var list *engine.ForwardList
				list, err = a.engine.Forward(ctx, name, params)
				if list != nil {
					result, rows = list, list.Rows
					footer = fmt.Sprintf("rows %d-%d, more: %t", list.Offset+1, list.Offset+len(list.Rows), list.HasMore)
				}
			case engine.OpSearch:
				result, err = a.engine.Search(ctx, name, params)
				raw = true
			case engine.OpAggregate:
				result, err = a.engine.Aggregate(ctx, name, params)
				raw = true
			default:
				return fmt.Errorf("--op must be select, get, page, forward, search or aggregate, got %s", op)
			}
			if err != nil {
				return reportQueryError(cmd, a, opts, err)
			}

			if output == "json" || raw {
				return writeJSON(out, result)
			}
			ui.RenderRows(out, rows, opts.noColor)
			if footer != "" && len(rows) > 0 {
				fmt.Fprintln(out, ui.Info(footer, opts.noColor))
			}
			return nil
		},
	}

	call.register(cmd)
	cmd.Flags().StringVar(&op, "op", engine.OpSelect, "Operation: select, get, page, forward, search or aggregate")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportQueryError prints a formatted engine error and returns a short one for the exit status
func reportQueryError(cmd *cobra.Command, a *app, opts *globalOptions, err error) error {
	fmt.Fprint(cmd.ErrOrStderr(), ui.QueryError(err, a.registry.Names(), opts.noColor))
	return fmt.Errorf("query failed")
}

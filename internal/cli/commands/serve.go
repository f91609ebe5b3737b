package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/namedquery/internal/cli/ui"
	"github.com/conduit-lang/namedquery/internal/gateway"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *globalOptions) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP",
		Long: `Start the HTTP gateway. Queries run with POST /queries/{name}/{op} and a
JSON object of parameters as the body; GET /metrics exposes Prometheus metrics.

When server.auth_secret is set every /queries route requires a bearer token.

Examples:
  namedquery serve
  namedquery serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, appOptions{backend: true, cache: true, metrics: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.config.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.config.Server.Port = port
			}

			srv := newGateway(a)
			color.New(color.FgCyan).Fprintf(cmd.OutOrStdout(), "Serving %d queries on http://%s\n",
				a.registry.Len(), a.config.Server.Address())
			if err := srv.ListenAndServe(ctx); err != nil {
				a.logger.Error("gateway stopped", zap.Error(err))
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), "Gateway stopped", opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "Override server.port")
	return cmd
}

func newGateway(a *app) *gateway.Server {
	gc := gateway.DefaultConfig(a.config.Server.Address())
	gc.AuthSecret = a.config.Server.AuthSecret
	gc.TokenTTL = a.config.Server.TokenTTL
	gc.Clients = a.config.Server.Clients
	gc.RateLimit = a.config.Server.RateLimit
	if a.metrics != nil {
		gc.Gatherer = a.metrics
	}
	return gateway.NewServer(a.engine, gc, a.logger.Named("gateway"))
}

// NewTokenCommand creates the token command
func NewTokenCommand(opts *globalOptions) *cobra.Command {
	var queries []string

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a gateway bearer token",
		Long: `Issue an HS256 bearer token signed with server.auth_secret.

--query restricts the token to query names with the given prefixes.

Examples:
  namedquery token reporting
  namedquery token reporting --query Order --query Product`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Server.AuthSecret == "" {
				return fmt.Errorf("server.auth_secret is not set")
			}
			tokens := gateway.NewTokenService(cfg.Server.AuthSecret, cfg.Server.TokenTTL)
			token, err := tokens.GenerateToken(args[0], queries)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&queries, "query", nil, "Allowed query name prefix, repeatable")
	cmd.AddCommand(newHashSecretCommand())
	return cmd
}

func newHashSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <secret>",
		Short: "Hash a client secret for server.clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := gateway.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// NewCacheCommand creates the cache command
func NewCacheCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, appOptions{cache: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cache == nil {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Info("result cache is disabled", opts.noColor))
				return nil
			}
			if err := a.cache.Invalidate(cmd.Context()); err != nil {
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), "Result cache cleared", opts.noColor)
			return nil
		},
	})
	return cmd
}

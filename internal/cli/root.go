// Package cli defines the helpdeskq commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/helpdesk-query/internal/app"
	"github.com/tbourn/helpdesk-query/internal/config"
	"github.com/tbourn/helpdesk-query/internal/observability"
	"github.com/tbourn/helpdesk-query/internal/services"
	"github.com/tbourn/helpdesk-query/internal/sysutil"
)

const defaultEnvFile = ".env"

// NewRoot builds the helpdeskq command tree. version is reported by the
// version command and attached to traces.
func NewRoot(version string) *cobra.Command {
	version = sysutil.FirstNonEmpty(version, "dev")
	var envFile string

	root := &cobra.Command{
		Use:           "helpdeskq",
		Short:         "Answer natural-language questions about Zendesk and Intercom tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file to load before reading the environment")

	root.AddCommand(newServeCommand(version))
	root.AddCommand(newAskCommand())
	root.AddCommand(newVersionCommand(version))
	return root
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setupLogging installs the process logger as zerolog's global and default
// context logger, so code outside a request still logs through it.
func setupLogging(cfg config.Config) zerolog.Logger {
	lg := sysutil.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	log.Logger = lg
	zerolog.DefaultContextLogger = &lg
	return lg
}

func newServeCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lg := setupLogging(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, app.ConfiguredStores(cfg)...)
			if err != nil {
				return fmt.Errorf("setup tracing: %w", err)
			}
			defer func() {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				if err := shutdownOTel(flushCtx); err != nil {
					lg.Warn().Err(err).Msg("flush traces")
				}
			}()

			runtime, err := app.New(ctx, cfg, lg)
			if err != nil {
				return err
			}
			defer func() {
				if err := runtime.Close(); err != nil {
					lg.Warn().Err(err).Msg("close resources")
				}
			}()

			return runtime.Run(ctx)
		},
	}
}

func newAskCommand() *cobra.Command {
	var (
		store     string
		lastQuery string
		compact   bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one query and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lg := setupLogging(cfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			runtime, err := app.New(ctx, cfg, lg)
			if err != nil {
				return err
			}
			defer runtime.Close()

			if store == "" {
				store = runtime.Stores()[0]
			}
			resp, err := runtime.Query(ctx, store, strings.Join(args, " "), services.QueryContext{LastQuery: lastQuery})
			if err != nil {
				return err
			}
			return writeJSON(cmd, resp, !compact)
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "helpdesk to query (zendesk or intercom); defaults to the first configured")
	cmd.Flags().StringVar(&lastQuery, "last-query", "", "previous question, for follow-ups")
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any, indent bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

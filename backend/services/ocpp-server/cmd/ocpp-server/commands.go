package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ocpphub/backend/libs/auth"
	"ocpphub/backend/libs/logging"
	"ocpphub/backend/services/ocpp-server/internal/app"
	"ocpphub/backend/services/ocpp-server/internal/config"
)

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "ocpp-server",
		Short:         "OCPP 1.6 central system",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (defaults to $CONFIG_FILE)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Accept station connections and serve the operator API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), cfgPath)
			},
		},
		newHashPasswordCommand(),
		newIssueTokenCommand(),
	)
	return root
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger("ocpp-server")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to init application", zap.Error(err))
		return err
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped with error", zap.Error(err))
		return err
	}
	logger.Info("ocpp server stopped")
	return nil
}

func newHashPasswordCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password STATION_ID PASSWORD",
		Short: "Print a station credential entry for auth.stations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stationID := strings.TrimSpace(args[0])
			if stationID == "" {
				return errors.New("station id is required")
			}
			hash, err := auth.NewBcryptHasher(cost).Hash(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", stationID, hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the library default)")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a bearer token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewTokenService(secret, ttl).GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (defaults to $JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-gateway/internal/api/handlers"
	"llm-gateway/internal/app"
	"llm-gateway/internal/auth"
	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/service/chat"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Log.WithError(err).Fatal("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llm-gateway",
		Short:         "Streaming chat gateway with usage accounting",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				logger.Log.Warn("No .env file found, using environment variables")
			}
			logger.Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd(), newStatsCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	appConfig, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	deps, err := app.NewConfig(ctx, appConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Log.WithError(err).Warn("Error releasing resources")
		}
	}()

	router := handlers.NewRouter(
		handlers.NewChatHandlers(deps.Chat, appConfig.Models, deps.Provider.GetDefaultModel()),
		handlers.NewWebSocketHandler(deps.Chat),
		appConfig.Auth.JWTSecret,
	)

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port": appConfig.Server.Port,
			"auth": appConfig.AuthEnabled(),
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		logger.Log.Info("Shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appConfig.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Log.Info("Server shutdown complete")
		return nil
	})

	return eg.Wait()
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print usage statistics from the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			deps, err := app.NewStatsConfig(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer deps.Close()

			global, err := deps.Stats.ComputeGlobalStats(cmd.Context())
			if err != nil {
				return err
			}

			resp := handlers.NewStatsResponse(global, chat.MetricsSnapshot{})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for API clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if !appConfig.AuthEnabled() {
				return errors.New("AUTH_JWT_SECRET is not set, authentication is disabled")
			}
			if ttl <= 0 {
				ttl = appConfig.Auth.TokenExpiration
			}

			token, err := auth.GenerateToken(appConfig.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "subject the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to AUTH_TOKEN_EXPIRATION)")
	cmd.MarkFlagRequired("subject")
	return cmd
}

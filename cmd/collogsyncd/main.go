package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joemckie/collogsync/internal/auth"
	"github.com/joemckie/collogsync/internal/cache"
	"github.com/joemckie/collogsync/internal/config"
	"github.com/joemckie/collogsync/internal/database"
	"github.com/joemckie/collogsync/internal/logging"
	"github.com/joemckie/collogsync/internal/player"
	"github.com/joemckie/collogsync/internal/remote"
	"github.com/joemckie/collogsync/internal/server"
	"github.com/joemckie/collogsync/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collogsyncd",
		Short: "Collection log synchronization daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a game-client bridge",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return mintToken(cmd)
		},
	}
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "bridge", "Name of the bridge client the token is issued to")
	rootCmd.AddCommand(tokenCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote collection-log service base URL")
	cmd.PersistentFlags().Int("remote-timeout-seconds", defaults.GetInt("remote.timeout_seconds"), "Remote request timeout in seconds")
	cmd.PersistentFlags().Int("debounce-ticks", defaults.GetInt("sync.debounce_ticks"), "Ticks to wait after the last resolution before syncing")
	cmd.PersistentFlags().Int("cache-max-players", defaults.GetInt("cache.max_players"), "Non-local players retained in the query cache")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "API signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.timeout_seconds", "remote-timeout-seconds")
	bindFlag(cmd, "sync.debounce_ticks", "debounce-ticks")
	bindFlag(cmd, "cache.max_players", "cache-max-players")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func mintToken(cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})
	token, expiresIn, err := issuer.IssueToken(tokenSubject)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
	return nil
}

func runDaemon(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := cache.NewStore(cache.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry, err := player.NewRegistry(player.RegistryConfig{Database: db})
	if err != nil {
		return err
	}

	remoteClient, err := remote.NewClient(remote.ClientConfig{
		BaseURL: appConfig.RemoteBaseURL,
		Timeout: appConfig.RemoteTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	coordinator, err := syncer.NewCoordinator(syncer.CoordinatorConfig{
		Remote:           remoteClient,
		Store:            store,
		Registry:         registry,
		Logger:           logger,
		DebounceTicks:    appConfig.DebounceTicks,
		MaxCachedPlayers: appConfig.CacheMaxPlayers,
	})
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine: coordinator,
		Tokens: tokenIssuer,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go coordinator.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

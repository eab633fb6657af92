package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulselog/pulselog/internal/aggregate"
	"github.com/pulselog/pulselog/internal/broadcast"
	"github.com/pulselog/pulselog/internal/clock"
	"github.com/pulselog/pulselog/internal/config"
	"github.com/pulselog/pulselog/internal/kv"
	"github.com/pulselog/pulselog/internal/logging"
	"github.com/pulselog/pulselog/internal/queue"
	"github.com/pulselog/pulselog/internal/server"
	"github.com/pulselog/pulselog/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulselog",
		Short: "Local wellness log store and aggregation service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("channel-name", defaults.GetString("channel.name"), "Broadcast channel name")
	cmd.PersistentFlags().String("beacon-path", defaults.GetString("channel.beacon_path"), "Beacon file for cross-process sync (empty disables)")
	cmd.PersistentFlags().String("default-timezone", defaults.GetString("timezone.default"), "Fallback IANA timezone")
	cmd.PersistentFlags().Int("queue-retry-seconds", defaults.GetInt("queue.retry_seconds"), "Offline queue flush retry interval in seconds (0 disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "channel.name", "channel-name")
	bindFlag(cmd, "channel.beacon_path", "beacon-path")
	bindFlag(cmd, "timezone.default", "default-timezone")
	bindFlag(cmd, "queue.retry_seconds", "queue-retry-seconds")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := kv.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	storage, err := kv.NewSQLite(kv.SQLiteConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var channel broadcast.Channel
	if appConfig.BeaconPath != "" {
		fileChannel, err := broadcast.OpenFile(broadcast.FileChannelConfig{
			Path:   appConfig.BeaconPath,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer fileChannel.Close()
		channel = fileChannel
	} else {
		channel = broadcast.NewHub(logger).Open(appConfig.ChannelName)
		defer channel.Close()
	}

	dataStore, err := store.New(store.Config{
		Storage: storage,
		Channel: channel,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	offlineQueue, err := queue.New(queue.Config{
		Storage:       storage,
		Committer:     queue.StoreCommitter{Store: dataStore},
		Clock:         time.Now,
		Logger:        logger,
		Online:        true,
		RetryInterval: appConfig.QueueRetry,
	})
	if err != nil {
		return err
	}
	defer offlineQueue.Close() //nolint:errcheck

	resolver := clock.NewResolver(clock.ResolverConfig{
		DefaultZone: appConfig.DefaultTimezone,
		Now:         time.Now,
		Logger:      logger,
	})

	engine, err := aggregate.New(aggregate.Config{
		Logs:   dataStore,
		Clock:  resolver,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:  dataStore,
		Engine: engine,
		Queue:  offlineQueue,
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

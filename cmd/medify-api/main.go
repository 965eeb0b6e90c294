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

	"github.com/MarcoPoloResearchLab/medify/internal/attachments"
	"github.com/MarcoPoloResearchLab/medify/internal/auth"
	"github.com/MarcoPoloResearchLab/medify/internal/blobstore"
	"github.com/MarcoPoloResearchLab/medify/internal/codeimage"
	"github.com/MarcoPoloResearchLab/medify/internal/config"
	"github.com/MarcoPoloResearchLab/medify/internal/database"
	"github.com/MarcoPoloResearchLab/medify/internal/export"
	"github.com/MarcoPoloResearchLab/medify/internal/logging"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
	"github.com/MarcoPoloResearchLab/medify/internal/records"
	"github.com/MarcoPoloResearchLab/medify/internal/server"
	"github.com/MarcoPoloResearchLab/medify/internal/tracing"
	"github.com/MarcoPoloResearchLab/medify/internal/users"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medify-api",
		Short: "Medify emergency health card service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMintSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Browser origins trusted with credentialed requests")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("public.base_url"), "Base URL of the public card pages")
	cmd.PersistentFlags().String("payload-mode", defaults.GetString("payload.mode"), "Code payload mode (auto, pointer, embedded)")
	cmd.PersistentFlags().String("blob-backend", defaults.GetString("blobs.backend"), "Blob store backend (filesystem, s3)")
	cmd.PersistentFlags().String("blob-root", defaults.GetString("blobs.root"), "Filesystem blob root")
	cmd.PersistentFlags().Bool("tracing-enabled", defaults.GetBool("tracing.enabled"), "Export traces over OTLP/HTTP")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "public.base_url", "public-base-url")
	bindFlag(cmd, "payload.mode", "payload-mode")
	bindFlag(cmd, "blobs.backend", "blob-backend")
	bindFlag(cmd, "blobs.root", "blob-root")
	bindFlag(cmd, "tracing.enabled", "tracing-enabled")
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

func newMintSessionCommand() *cobra.Command {
	var (
		userID      string
		email       string
		displayName string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint-session",
		Short: "Print a session token for a local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SessionSigningKey),
				Issuer:        appConfig.SessionIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(auth.Identity{
				UserID:      userID,
				Email:       email,
				DisplayName: displayName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s; send it as the %s cookie or a bearer token\n", expiresAt.Format(time.RFC3339), appConfig.SessionCookieName)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Account user identifier")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&displayName, "name", "", "Account display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to 12h)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	tracerProvider, err := tracing.Init(ctx, tracing.Config{
		Enabled:     appConfig.TracingEnabled,
		Endpoint:    appConfig.TracingEndpoint,
		ServiceName: appConfig.ServiceName,
		SampleRate:  appConfig.TracingSampleRate,
		Insecure:    appConfig.TracingInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(appConfig.ServiceName)

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	recordService, err := records.NewService(records.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Metrics:  collector,
	})
	if err != nil {
		return err
	}

	blobStore, blobHandler, err := openBlobStore(ctx, appConfig)
	if err != nil {
		return err
	}

	attachmentManager, err := attachments.NewManager(attachments.ManagerConfig{
		Store:   blobStore,
		Clock:   time.Now,
		Logger:  logger,
		Metrics: collector,
	})
	if err != nil {
		return err
	}

	registry, err := reconciler.NewRegistry(reconciler.RegistryConfig{
		Records:     recordService,
		Attachments: attachmentManager,
		IdleTimeout: appConfig.EditSessionIdleTimeout,
		Clock:       time.Now,
		Logger:      logger,
		Metrics:     collector,
	})
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	generator := codeimage.NewGenerator(codeimage.GeneratorConfig{Logger: logger, Metrics: collector})
	frameBuilder, err := preview.NewBuilder(preview.BuilderConfig{
		Generator: generator,
		Mode:      appConfig.PayloadMode,
		BaseURL:   appConfig.PublicBaseURL,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	exporter, err := export.NewExporter(export.Config{
		Builder:   frameBuilder,
		Generator: generator,
		Avatars:   export.NewHTTPAvatarLoader(nil),
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Accounts:         userService,
		Records:          recordService,
		Sessions:         registry,
		Frames:           frameBuilder,
		Exporter:         exporter,
		Blobs:            blobHandler,
		Metrics:          collector,
		Logger:           logger,
		AllowedOrigins:   appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("payload_mode", string(appConfig.PayloadMode)),
			zap.String("blob_backend", appConfig.BlobBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server stopping")
		registry.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openBlobStore returns the configured store and, for the filesystem backend,
// the handler that serves its public URLs.
func openBlobStore(ctx context.Context, appConfig config.AppConfig) (blobstore.Store, http.Handler, error) {
	switch appConfig.BlobBackend {
	case config.BlobBackendS3:
		client, err := blobstore.NewS3Client(ctx, appConfig.S3Region, appConfig.S3Endpoint)
		if err != nil {
			return nil, nil, err
		}
		store, err := blobstore.NewS3Store(blobstore.S3StoreConfig{
			Client:        client,
			Bucket:        appConfig.S3Bucket,
			PublicBaseURL: appConfig.BlobPublicURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store, err := blobstore.NewFileStore(blobstore.FileStoreConfig{
			Fs:            afero.NewOsFs(),
			Root:          appConfig.BlobRoot,
			PublicBaseURL: appConfig.BlobPublicURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Handler(), nil
	}
}

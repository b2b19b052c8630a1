package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	handler "logingest/handler/http"
	"logingest/src/core/auth"
	"logingest/src/core/ingest"
	"logingest/src/core/user"
	"logingest/src/log"
	"logingest/src/queue/redisstream"
	"logingest/src/storage/postgres/jobctrl"
	"logingest/src/storage/postgres/userctrl"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion API server",
	Long:  `The serve command starts an HTTP server that accepts log uploads and queues ingestion jobs`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func runServer(cmd *cobra.Command, args []string) error {
	if err := validateConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	environment := viper.GetString("app.environment")

	if dsn := viper.GetString("sentry.dsn"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: environment,
			Release:     viper.GetString("app.version"),
		}); err != nil {
			log.Error(err, "Failed to initialize sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize PostgreSQL connection
	db, err := openDatabase()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := jobctrl.Migrate(db); err != nil {
		return err
	}
	if err := userctrl.Migrate(db); err != nil {
		return err
	}
	jobs := jobctrl.NewRepository(db)

	// Redis backs the job stream and the rate limiter
	var redisClient *redis.Client
	if viper.GetString("queue.driver") == "redis" || viper.GetBool("rate_limit.enabled") {
		redisClient, err = redisstream.NewClient(ctx, viper.GetString("redis.url"))
		if err != nil {
			log.Error(err, "Redis unavailable")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	storage, uploads, err := openStorage(ctx)
	if err != nil {
		return err
	}

	queue, closeQueue, err := openQueue(redisClient)
	if err != nil {
		return err
	}
	defer closeQueue()

	tokens, err := auth.NewTokens(auth.Config{
		Secret:     viper.GetString("jwt.secret"),
		Algorithm:  viper.GetString("jwt.algorithm"),
		AccessTTL:  durationSetting("jwt.access_ttl", 30*time.Minute),
		RefreshTTL: durationSetting("jwt.refresh_ttl", 7*24*time.Hour),
	})
	if err != nil {
		return err
	}

	users, err := user.NewService(userctrl.NewRepository(db), viper.GetInt64("user.node_id"), log.WithName("user"))
	if err != nil {
		return err
	}

	ingestSvc := ingest.NewService(jobs, storage, queue,
		durationSetting("storage.presign_expires", 30*time.Minute),
		log.WithName("ingest"),
	)

	checks := []handler.Check{
		{Name: "database", Pinger: jobs},
		{Name: "queue", Pinger: queue},
		{Name: "storage", Pinger: storage},
	}
	limiter := redisClient
	if !viper.GetBool("rate_limit.enabled") {
		limiter = nil
	}
	if limiter != nil && viper.GetString("queue.driver") != "redis" {
		checks = append(checks, handler.Check{Name: "redis", Pinger: pingFunc(func(ctx context.Context) error {
			return limiter.Ping(ctx).Err()
		})})
	}

	h := handler.NewHandler(handler.Options{
		Config: handler.Config{
			AppName:        viper.GetString("app.name"),
			Version:        viper.GetString("app.version"),
			Environment:    environment,
			TokenPrefix:    viper.GetString("jwt.token_prefix"),
			RequestTimeout: durationSetting("server.request_timeout", 30*time.Second),
			RateLimits: handler.RateLimits{
				Window:   durationSetting("rate_limit.window", time.Minute),
				Login:    viper.GetInt("rate_limit.login"),
				Init:     viper.GetInt("rate_limit.init"),
				Complete: viper.GetInt("rate_limit.complete"),
				Jobs:     viper.GetInt("rate_limit.jobs"),
			},
		},
		Ingest:  ingestSvc,
		Users:   users,
		Tokens:  tokens,
		Uploads: uploads,
		Redis:   limiter,
		Checks:  checks,
		Logger:  log.Logger(),
	})

	if environment == environmentProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr, "environment", environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		durationSetting("server.shutdown_timeout", 5*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}

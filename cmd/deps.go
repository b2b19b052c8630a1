package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	handler "logingest/handler/http"
	"logingest/src/core/ingest"
	"logingest/src/log"
	"logingest/src/queue/amqpctrl"
	"logingest/src/queue/redisstream"
	"logingest/src/storage/localctrl"
	"logingest/src/storage/minioctrl"
	"logingest/src/storage/s3ctrl"
)

func openDatabase() (*gorm.DB, error) {
	level := logger.Warn
	if viper.GetBool("app.debug") {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(postgresDSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(viper.GetInt("postgres.max_open_conns"))
	sqlDB.SetMaxIdleConns(viper.GetInt("postgres.max_idle_conns"))
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

type objectStore interface {
	ingest.ObjectStorage
	handler.Pinger
}

// openStorage builds the configured object store. The local driver also
// returns the receiver for signed uploads.
func openStorage(ctx context.Context) (objectStore, handler.LocalUploads, error) {
	driver := viper.GetString("storage.driver")
	switch driver {
	case "minio":
		svc, err := minioctrl.NewMinioService(minioctrl.Config{
			Endpoint:        viper.GetString("storage.endpoint"),
			AccessKeyID:     viper.GetString("storage.access_key"),
			SecretAccessKey: viper.GetString("storage.secret_key"),
			Region:          viper.GetString("storage.region"),
			UseSSL:          viper.GetBool("storage.use_ssl"),
			Bucket:          viper.GetString("storage.bucket"),
		})
		if err != nil {
			return nil, nil, err
		}
		if err := svc.EnsureBucketExists(ctx); err != nil {
			log.Error(err, "Bucket check failed, uploads will fail until storage is reachable")
		}
		return svc, nil, nil
	case "s3":
		store, err := s3ctrl.NewStore(s3ctrl.Config{
			Region:          viper.GetString("storage.region"),
			Endpoint:        viper.GetString("storage.endpoint"),
			AccessKeyID:     viper.GetString("storage.access_key"),
			SecretAccessKey: viper.GetString("storage.secret_key"),
			Bucket:          viper.GetString("storage.bucket"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "local":
		store, err := localctrl.NewStore(localctrl.Config{
			Root:      viper.GetString("storage.local_root"),
			PublicURL: viper.GetString("server.public_url"),
			Secret:    viper.GetString("storage.local_secret"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

type jobQueue interface {
	ingest.Queue
	handler.Pinger
}

// openQueue builds the configured queue. The returned closer releases the
// underlying connection.
func openQueue(redisClient *redis.Client) (jobQueue, func() error, error) {
	driver := viper.GetString("queue.driver")
	switch driver {
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis queue requires a reachable redis at %s", viper.GetString("redis.url"))
		}
		q := redisstream.NewQueue(redisClient, viper.GetString("queue.stream"), viper.GetInt64("queue.max_len"))
		return q, func() error { return nil }, nil
	case "amqp":
		publisher, err := amqpctrl.NewPublisher(viper.GetString("amqp.url"), log.Watermill(log.WithName("amqp")))
		if err != nil {
			return nil, nil, err
		}
		q := amqpctrl.NewQueue(publisher, viper.GetString("queue.stream"))
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", driver)
	}
}

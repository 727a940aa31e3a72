package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/classifier"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/config"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/logging"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/notify"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plantapi"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/repository"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/usecase"
)

// app owns the long-lived process resources shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	photos     *repository.PhotoRepository
	classifier *classifier.ONNXClassifier

	closers []func()
}

func newApp(opts *RootOptions, configExplicit bool) (*app, error) {
	path := opts.ConfigPath
	if !configExplicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.onClose(func() { _ = logger.Sync() })
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openDatabase(ctx context.Context) error {
	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	a.onClose(func() { _ = sqlDB.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	a.photos = repository.NewPhotoRepository(db, a.logger)
	return nil
}

func (a *app) loadModel() error {
	a.logger.Info("loading model", zap.String("path", a.cfg.Model.Path))
	clf, err := classifier.Load(classifier.Config{
		ModelPath:   a.cfg.Model.Path,
		InputName:   a.cfg.Model.Input,
		OutputName:  a.cfg.Model.Output,
		LibraryPath: a.cfg.Model.Library,
	})
	if err != nil {
		return err
	}
	a.classifier = clf
	a.onClose(clf.Close)
	return nil
}

func (a *app) evaluator() *usecase.Evaluator {
	return usecase.NewEvaluator(a.photos, a.classifier, a.logger)
}

// newReconciler wires the plant API and the optional report cache and event
// publisher. Optional backends that fail to connect are logged and skipped.
func (a *app) newReconciler(ctx context.Context, extra ...usecase.Option) (*usecase.Reconciler, error) {
	baseURL, err := plantapi.BaseURL(a.cfg.API.URL, a.cfg.API.Port, a.cfg.API.Base)
	if err != nil {
		return nil, err
	}
	api := plantapi.NewClient(baseURL, a.cfg.API.Timeout, a.logger)

	opts := []usecase.Option{usecase.WithInterval(a.cfg.Loop.Interval)}

	if addr := a.cfg.Redis.Addr; addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.logger.Warn("redis unavailable, cycle reports stay in memory", zap.String("addr", addr), zap.Error(err))
			_ = client.Close()
		} else {
			a.onClose(func() { _ = client.Close() })
			opts = append(opts, usecase.WithCache(usecase.NewRedisCache(client)))
		}
	}

	if url := a.cfg.RabbitMQ.URL; url != "" {
		publisher, err := a.dialPublisher(url)
		if err != nil {
			a.logger.Warn("rabbitmq unavailable, status change events disabled", zap.Error(err))
		} else {
			opts = append(opts, usecase.WithNotifier(publisher))
		}
	}

	opts = append(opts, extra...)
	a.logger.Info("reconciler configured",
		zap.String("api", baseURL),
		zap.Duration("interval", a.cfg.Loop.Interval),
	)
	return usecase.NewReconciler(api, api, a.evaluator(), a.logger, opts...), nil
}

func (a *app) dialPublisher(url string) (*notify.RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	publisher, err := notify.NewRabbitPublisher(conn, a.cfg.RabbitMQ.Exchange, a.cfg.RabbitMQ.RoutingKey)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.onClose(func() {
		_ = publisher.Close()
		_ = conn.Close()
	})
	return publisher, nil
}

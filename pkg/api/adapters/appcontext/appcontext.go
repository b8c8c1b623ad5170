package appcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/eser/ajan/configfx"
	"github.com/eser/ajan/logfx"
	"github.com/eser/ajan/metricsfx"

	"github.com/WarriorSushi/speedstein/pkg/api/adapters/dynamodb_store"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/engine"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/repository"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/sqs_queue"
	"github.com/WarriorSushi/speedstein/pkg/api/adapters/stream_gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/pools"
	"github.com/WarriorSushi/speedstein/pkg/api/business/sessions"
)

var ErrInitFailed = errors.New("failed to initialize app context")

type AppContext struct {
	Config  *AppConfig
	Logger  *logfx.Logger
	Metrics *metricsfx.MetricsProvider

	SqsQueue      *sqs_queue.Queue
	DynamoDbStore *dynamodb_store.Store
	Repository    *repository.Repository

	Pools    *pools.Registry
	Router   *pools.Router
	Sessions *sessions.Registry
	Gateway  *gateway.Service

	StreamGateway *stream_gateway.StreamGateway
}

func NewAppContext(ctx context.Context) (*AppContext, error) {
	appContext := &AppContext{} //nolint:exhaustruct

	// config
	cl := configfx.NewConfigManager()

	appContext.Config = &AppConfig{} //nolint:exhaustruct

	err := cl.LoadDefaults(appContext.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// logger
	appContext.Logger, err = logfx.NewLoggerAsDefault(os.Stdout, &appContext.Config.Log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// metrics
	appContext.Metrics = metricsfx.NewMetricsProvider()

	err = appContext.Metrics.RegisterNativeCollectors()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// persistence adapters
	appContext.SqsQueue = sqs_queue.New(&appContext.Config.SqsQueue, appContext.Logger)
	appContext.DynamoDbStore = dynamodb_store.New(&appContext.Config.DynamoDbStore, appContext.Logger)
	appContext.Repository = repository.New(appContext.Logger, appContext.DynamoDbStore, appContext.SqsQueue)

	// engine pools
	factory, err := engine.NewFactory(&appContext.Config.Engine, appContext.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	appContext.Pools, err = pools.NewRegistry(&appContext.Config.Pools, appContext.Logger, factory)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	appContext.Router = pools.NewRouter(appContext.Pools, appContext.Logger, factory)

	// services
	appContext.Sessions = sessions.NewRegistry(&appContext.Config.Sessions, appContext.Logger)

	appContext.Gateway = gateway.NewService(
		&appContext.Config.Gateway,
		&appContext.Config.Renders,
		appContext.Logger,
		appContext.Pools,
		appContext.Router,
		appContext.Sessions,
		appContext.Repository,
		appContext.Repository,
	)

	// stream gateway
	appContext.StreamGateway = stream_gateway.New(
		&appContext.Config.StreamGateway,
		&appContext.Config.Sessions,
		appContext.Logger,
		appContext.Gateway,
		appContext.Sessions,
	)

	return appContext, nil
}

func (a *AppContext) Run(ctx context.Context) error {
	a.Logger.InfoContext(
		ctx,
		"Starting application layer",
		slog.String("name", a.Config.AppName),
		slog.String("environment", a.Config.AppEnv),
		slog.Any("features", a.Config.Features),
	)

	// persistence
	err := a.DynamoDbStore.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	usageQueueURL, err := a.SqsQueue.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	err = a.Repository.Init(ctx, *usageQueueURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// engine pools
	a.Pools.Start(ctx)

	return nil
}

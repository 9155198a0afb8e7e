package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rune-org/rtes/common/config"
	"github.com/rune-org/rtes/common/logger"
	"github.com/rune-org/rtes/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for the service
func Setup(ctx context.Context, serviceName string) (*Components, error) {
	components := &Components{
		cleanupFuncs: make([]func(context.Context) error, 0),
	}

	// 1. Load configuration
	var err error
	components.Config, err = config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize logger
	components.Logger = logger.New(
		components.Config.Service.LogLevel,
		components.Config.Service.LogFormat,
	)

	components.Logger.Info("initializing service", "service", serviceName)

	// 3. Initialize telemetry
	shutdownTracing, err := telemetry.Init(ctx, serviceName, components.Config.Telemetry.OTLPEndpoint)
	if err != nil {
		// Don't fail startup if telemetry fails
		components.Logger.Warn("failed to initialize telemetry", "error", err)
	} else {
		components.addCleanup(shutdownTracing)
	}

	// 4. Initialize Redis client
	redisOpts, err := redis.ParseURL(components.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	components.Redis = redis.NewClient(redisOpts)
	components.addCleanup(func(context.Context) error {
		components.Logger.Info("closing redis connection")
		return components.Redis.Close()
	})

	// 5. Initialize MongoDB client
	components.Logger.Info("connecting to mongodb", "database", components.Config.Mongo.Database)
	components.Mongo, err = mongo.Connect(options.Client().ApplyURI(components.Config.Mongo.URL))
	if err != nil {
		_ = components.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create mongodb client: %w", err)
	}
	components.addCleanup(func(ctx context.Context) error {
		components.Logger.Info("closing mongodb connection")
		return components.Mongo.Disconnect(ctx)
	})

	components.Logger.Info("service initialization complete", "service", serviceName)

	return components, nil
}

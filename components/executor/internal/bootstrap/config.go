package bootstrap

import (
	"fmt"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libLog "github.com/LerianStudio/lib-commons/v2/commons/log"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	libRabbitmq "github.com/LerianStudio/lib-commons/v2/commons/rabbitmq"
	libRedis "github.com/LerianStudio/lib-commons/v2/commons/redis"
	libZap "github.com/LerianStudio/lib-commons/v2/commons/zap"

	"github.com/weftworks/loom/components/executor/internal/adapters/postgres/action"
	"github.com/weftworks/loom/components/executor/internal/adapters/postgres/changeset"
	"github.com/weftworks/loom/components/executor/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/executor/internal/adapters/redis"
	"github.com/weftworks/loom/components/executor/internal/services"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/funcrun"
	"github.com/weftworks/loom/pkg/sandbox"
)

// ApplicationName is the component identity used in logs and telemetry.
const ApplicationName = "executor"

// Config is the configuration struct for the executor service.
type Config struct {
	EnvName                 string `env:"ENV_NAME"`
	LogLevel                string `env:"LOG_LEVEL"`
	PrimaryDBHost           string `env:"DB_HOST"`
	PrimaryDBUser           string `env:"DB_USER"`
	PrimaryDBPassword       string `env:"DB_PASSWORD"`
	PrimaryDBName           string `env:"DB_NAME"`
	PrimaryDBPort           string `env:"DB_PORT"`
	ReplicaDBHost           string `env:"DB_REPLICA_HOST"`
	ReplicaDBUser           string `env:"DB_REPLICA_USER"`
	ReplicaDBPassword       string `env:"DB_REPLICA_PASSWORD"`
	ReplicaDBName           string `env:"DB_REPLICA_NAME"`
	ReplicaDBPort           string `env:"DB_REPLICA_PORT"`
	MaxOpenConnections      int    `env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConnections      int    `env:"DB_MAX_IDLE_CONNS"`
	RedisHost               string `env:"REDIS_HOST"`
	RedisPort               string `env:"REDIS_PORT"`
	RedisPassword           string `env:"REDIS_PASSWORD"`
	RabbitURI               string `env:"RABBITMQ_URI"`
	RabbitMQHost            string `env:"RABBITMQ_HOST"`
	RabbitMQPortAMQP        string `env:"RABBITMQ_PORT_AMQP"`
	RabbitMQUser            string `env:"RABBITMQ_DEFAULT_USER"`
	RabbitMQPass            string `env:"RABBITMQ_DEFAULT_PASS"`
	RabbitMQJobsQueue       string `env:"RABBITMQ_JOBS_QUEUE"`
	RabbitMQHealthCheckURL  string `env:"RABBITMQ_HEALTH_CHECK_URL"`
	CacheMaxEntries         int    `env:"LAYER_DB_CACHE_MAX_ENTRIES"`
	DispatcherLockTTLSecs   int    `env:"DISPATCHER_LOCK_TTL_SECONDS"`
	SandboxTimeoutSeconds   int    `env:"SANDBOX_TIMEOUT_SECONDS"`
	OtelServiceName         string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelLibraryName         string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceVersion      string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv       string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelColExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	EnableTelemetry         bool   `env:"ENABLE_TELEMETRY"`
}

// InitService assembles the executor service from environment
// configuration.
func InitService() *Service {
	cfg := &Config{}

	if err := libCommons.SetConfigFromEnvVars(cfg); err != nil {
		panic(err)
	}

	logger := libZap.InitializeLogger()

	telemetry := &libOpentelemetry.Telemetry{
		TelemetryConfig: libOpentelemetry.TelemetryConfig{
			LibraryName:               cfg.OtelLibraryName,
			ServiceName:               cfg.OtelServiceName,
			ServiceVersion:            cfg.OtelServiceVersion,
			DeploymentEnv:             cfg.OtelDeploymentEnv,
			CollectorExporterEndpoint: cfg.OtelColExporterEndpoint,
			EnableTelemetry:           cfg.EnableTelemetry,
		},
	}

	postgresConnection := buildPostgresConnection(cfg, logger)
	rabbitConnection := buildRabbitConnection(cfg, logger)

	redisConnection := &libRedis.RedisConnection{
		Address:  []string{fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)},
		Password: cfg.RedisPassword,
		Logger:   logger,
	}

	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}

	snapshots := cas.NewLayered(2*time.Minute,
		cas.NewMemoryStore(maxEntries, 0, 0),
		cas.NewPostgresStore(postgresConnection, "workspace_snapshots"),
	)

	sandboxTimeout := time.Duration(cfg.SandboxTimeoutSeconds) * time.Second
	if sandboxTimeout <= 0 {
		sandboxTimeout = 5 * time.Minute
	}

	lockTTL := time.Duration(cfg.DispatcherLockTTLSecs) * time.Second
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}

	useCase := &services.UseCase{
		ActionRepo:    action.NewActionPostgreSQLRepository(postgresConnection),
		ChangeSetRepo: changeset.NewChangeSetPostgreSQLRepository(postgresConnection),
		LockRepo:      redis.NewConsumerRedis(redisConnection),
		Producer:      rabbitmq.NewProducerRabbitMQ(rabbitConnection),
		Snapshots:     snapshots,
		Runner: sandbox.NewRunner(
			sandbox.NewRabbitMQClient(rabbitConnection),
			funcrun.NewFuncRunPostgreSQLRepository(postgresConnection),
			sandboxTimeout,
		),
		LockTTL: lockTTL,
	}

	routes := rabbitmq.NewConsumerRoutes(rabbitConnection, logger, telemetry)

	return &Service{
		Consumer: NewMultiQueueConsumer(cfg, routes, useCase),
		Logger:   logger,
	}
}

func buildPostgresConnection(cfg *Config, logger libLog.Logger) *libPostgres.PostgresConnection {
	postgresSourcePrimary := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.PrimaryDBHost, cfg.PrimaryDBUser, cfg.PrimaryDBPassword, cfg.PrimaryDBName, cfg.PrimaryDBPort)

	postgresSourceReplica := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.ReplicaDBHost, cfg.ReplicaDBUser, cfg.ReplicaDBPassword, cfg.ReplicaDBName, cfg.ReplicaDBPort)

	return &libPostgres.PostgresConnection{
		ConnectionStringPrimary: postgresSourcePrimary,
		ConnectionStringReplica: postgresSourceReplica,
		PrimaryDBName:           cfg.PrimaryDBName,
		ReplicaDBName:           cfg.ReplicaDBName,
		Component:               ApplicationName,
		Logger:                  logger,
		MaxOpenConnections:      cfg.MaxOpenConnections,
		MaxIdleConnections:      cfg.MaxIdleConnections,
	}
}

func buildRabbitConnection(cfg *Config, logger libLog.Logger) *libRabbitmq.RabbitMQConnection {
	rabbitSource := fmt.Sprintf("%s://%s:%s@%s:%s",
		cfg.RabbitURI, cfg.RabbitMQUser, cfg.RabbitMQPass, cfg.RabbitMQHost, cfg.RabbitMQPortAMQP)

	return &libRabbitmq.RabbitMQConnection{
		ConnectionStringSource: rabbitSource,
		HealthCheckURL:         cfg.RabbitMQHealthCheckURL,
		Host:                   cfg.RabbitMQHost,
		Port:                   cfg.RabbitMQPortAMQP,
		User:                   cfg.RabbitMQUser,
		Pass:                   cfg.RabbitMQPass,
		Queue:                  cfg.RabbitMQJobsQueue,
		Logger:                 logger,
	}
}

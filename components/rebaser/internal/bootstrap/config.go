package bootstrap

import (
	"context"
	"fmt"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libLog "github.com/LerianStudio/lib-commons/v2/commons/log"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	libRabbitmq "github.com/LerianStudio/lib-commons/v2/commons/rabbitmq"
	libZap "github.com/LerianStudio/lib-commons/v2/commons/zap"

	httpout "github.com/weftworks/loom/components/rebaser/internal/adapters/http/out"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/approval"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/audit"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/changeset"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/postgres/workspace"
	"github.com/weftworks/loom/components/rebaser/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/rebaser/internal/services"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/funcrun"
	"github.com/weftworks/loom/pkg/sandbox"
)

// ApplicationName is the component identity used in logs and telemetry.
const ApplicationName = "rebaser"

// Config is the configuration struct for the rebaser service.
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
	RabbitURI               string `env:"RABBITMQ_URI"`
	RabbitMQHost            string `env:"RABBITMQ_HOST"`
	RabbitMQPortAMQP        string `env:"RABBITMQ_PORT_AMQP"`
	RabbitMQUser            string `env:"RABBITMQ_DEFAULT_USER"`
	RabbitMQPass            string `env:"RABBITMQ_DEFAULT_PASS"`
	RabbitMQRebaseQueue     string `env:"RABBITMQ_REBASE_QUEUE"`
	RabbitMQHealthCheckURL  string `env:"RABBITMQ_HEALTH_CHECK_URL"`
	CacheMaxEntries         int    `env:"LAYER_DB_CACHE_MAX_ENTRIES"`
	CacheIdleTTLSeconds     int    `env:"LAYER_DB_CACHE_IDLE_TTL_SECONDS"`
	CacheAbsoluteTTLSeconds int    `env:"LAYER_DB_CACHE_ABSOLUTE_TTL_SECONDS"`
	DiskCachePath           string `env:"LAYER_DB_DISK_CACHE_PATH"`
	ObjectStoreBucket       string `env:"OBJECT_STORE_BUCKET"`
	ObjectStorePrefix       string `env:"OBJECT_STORE_PREFIX"`
	ObjectStoreMinBlobBytes int    `env:"OBJECT_STORE_MIN_BLOB_BYTES"`
	PolicyEngineURL         string `env:"POLICY_ENGINE_URL"`
	PolicyTokenIssuer       string `env:"POLICY_TOKEN_ISSUER"`
	PolicySigningKey        string `env:"POLICY_SIGNING_KEY"`
	SandboxTimeoutSeconds   int    `env:"SANDBOX_TIMEOUT_SECONDS"`
	InsertConcurrencyLimit  int    `env:"INSERT_CONCURRENCY_LIMIT"`
	OtelServiceName         string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelLibraryName         string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceVersion      string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv       string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelColExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	EnableTelemetry         bool   `env:"ENABLE_TELEMETRY"`
}

// InitService assembles the rebaser service from environment
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

	snapshots := buildLayeredStore(cfg, postgresConnection)

	changeSetRepo := changeset.NewChangeSetPostgreSQLRepository(postgresConnection)
	workspaceRepo := workspace.NewWorkspacePostgreSQLRepository(postgresConnection)
	approvalRepo := approval.NewApprovalPostgreSQLRepository(postgresConnection)
	auditRepo := audit.NewAuditPostgreSQLRepository(postgresConnection)
	funcRunRepo := funcrun.NewFuncRunPostgreSQLRepository(postgresConnection)

	producer := rabbitmq.NewProducerRabbitMQ(rabbitConnection)
	sandboxClient := sandbox.NewRabbitMQClient(rabbitConnection)

	sandboxTimeout := time.Duration(cfg.SandboxTimeoutSeconds) * time.Second
	if sandboxTimeout <= 0 {
		sandboxTimeout = 5 * time.Minute
	}

	useCase := &services.UseCase{
		ChangeSetRepo:          changeSetRepo,
		WorkspaceRepo:          workspaceRepo,
		ApprovalRepo:           approvalRepo,
		AuditRepo:              auditRepo,
		PolicyRepo:             httpout.NewPolicyHTTPRepository(cfg.PolicyEngineURL, cfg.PolicyTokenIssuer, []byte(cfg.PolicySigningKey)),
		Producer:               producer,
		Snapshots:              snapshots,
		Runner:                 sandbox.NewRunner(sandboxClient, funcRunRepo, sandboxTimeout),
		InsertConcurrencyLimit: cfg.InsertConcurrencyLimit,
	}

	routes := rabbitmq.NewConsumerRoutes(rabbitConnection, logger, telemetry)

	consumer := NewMultiQueueConsumer(cfg, routes, useCase)

	return &Service{
		Consumer: consumer,
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
		Queue:                  cfg.RabbitMQRebaseQueue,
		Logger:                 logger,
	}
}

// buildLayeredStore stacks the CAS tiers: memory LRU, optional bbolt
// disk cache, then Postgres. The object-store tier joins the stack only
// when a bucket is configured.
func buildLayeredStore(cfg *Config, pc *libPostgres.PostgresConnection) *cas.Layered {
	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}

	tiers := []cas.Store{
		cas.NewMemoryStore(maxEntries,
			time.Duration(cfg.CacheIdleTTLSeconds)*time.Second,
			time.Duration(cfg.CacheAbsoluteTTLSeconds)*time.Second),
	}

	if cfg.DiskCachePath != "" {
		disk, err := cas.NewDiskStore(cfg.DiskCachePath, ApplicationName)
		if err != nil {
			panic(fmt.Sprintf("Failed to open disk cache: %v", err))
		}

		tiers = append(tiers, disk)
	}

	tiers = append(tiers, cas.NewPostgresStore(pc, "workspace_snapshots"))

	if cfg.ObjectStoreBucket != "" {
		objectStore, err := cas.NewObjectStore(context.Background(), cfg.ObjectStoreBucket, cfg.ObjectStorePrefix, cfg.ObjectStoreMinBlobBytes)
		if err != nil {
			panic(fmt.Sprintf("Failed to build object store tier: %v", err))
		}

		tiers = append(tiers, objectStore)
	}

	return cas.NewLayered(2*time.Minute, tiers...)
}

package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"

	"github.com/weftworks/loom/components/executor/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/executor/internal/services"
	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/mmodel"
)

// MultiQueueConsumer consumes the job stream: dispatch requests and
// change-set-applied notifications.
type MultiQueueConsumer struct {
	consumerRoutes *rabbitmq.ConsumerRoutes
	UseCase        *services.UseCase
}

// NewMultiQueueConsumer creates a new instance of MultiQueueConsumer.
func NewMultiQueueConsumer(cfg *Config, routes *rabbitmq.ConsumerRoutes, useCase *services.UseCase) *MultiQueueConsumer {
	consumer := &MultiQueueConsumer{
		consumerRoutes: routes,
		UseCase:        useCase,
	}

	routes.Register(cfg.RabbitMQJobsQueue, consumer.handlerJobsQueue)

	return consumer
}

// Run starts consumers for all registered queues.
func (mq *MultiQueueConsumer) Run(l *libCommons.Launcher) error {
	err := mq.consumerRoutes.RunConsumers()
	if err != nil {
		return err
	}

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return nil
}

type changeSetAppliedPayload struct {
	WorkspaceID      string `json:"workspaceId"`
	AppliedChangeSet string `json:"appliedChangeSet"`
	HeadChangeSet    string `json:"headChangeSet"`
}

// handlerJobsQueue dispatches one envelope from the job stream.
func (mq *MultiQueueConsumer) handlerJobsQueue(ctx context.Context, body []byte) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "app.handler_jobs_queue")
	defer span.End()

	var envelope mmodel.Envelope

	if err := json.Unmarshal(body, &envelope); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Error unmarshalling envelope JSON", err)

		logger.Errorf("Error unmarshalling jobs envelope JSON: %v", err)

		return err
	}

	switch envelope.Kind {
	case mmodel.MessageKindActionDispatch:
		var req mmodel.ActionDispatchRequest

		if err := envelope.Open(&req); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("Dispatch request consumed for change set: %s", req.ChangeSetID)

		return mq.UseCase.DispatchActions(ctx, req.WorkspaceID, req.ChangeSetID)
	case mmodel.MessageKindChangeSetApplied:
		var applied changeSetAppliedPayload

		if err := envelope.Open(&applied); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("Change set %s applied, re-homing actions", applied.AppliedChangeSet)

		return mq.UseCase.RehomeActions(ctx, applied.WorkspaceID, applied.AppliedChangeSet, applied.HeadChangeSet)
	default:
		logger.Warnf("Ignoring unknown message kind %q", envelope.Kind)

		return nil
	}
}

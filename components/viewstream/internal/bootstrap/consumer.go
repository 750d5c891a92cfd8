package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"

	"github.com/weftworks/loom/components/viewstream/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/viewstream/internal/services"
	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/mmodel"
)

// MultiQueueConsumer consumes the view rebuild trigger stream.
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

	routes.Register(cfg.RabbitMQViewQueue, consumer.handlerViewQueue)

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

// handlerViewQueue dispatches one envelope from the trigger stream.
func (mq *MultiQueueConsumer) handlerViewQueue(ctx context.Context, body []byte) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "app.handler_view_queue")
	defer span.End()

	var envelope mmodel.Envelope

	if err := json.Unmarshal(body, &envelope); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Error unmarshalling envelope JSON", err)

		logger.Errorf("Error unmarshalling view envelope JSON: %v", err)

		return err
	}

	switch envelope.Kind {
	case mmodel.MessageKindChangeSetUpdated, mmodel.MessageKindViewUpdate:
		var trigger mmodel.ChangeSetUpdated

		if err := envelope.Open(&trigger); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("View update consumed for change set: %s", trigger.ChangeSetID)

		return mq.UseCase.BuildViews(ctx, trigger.WorkspaceID, trigger.ChangeSetID, trigger.SnapshotAddress, false)
	case mmodel.MessageKindViewRebuild:
		var trigger mmodel.ChangeSetUpdated

		if err := envelope.Open(&trigger); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("Full rebuild consumed for change set: %s", trigger.ChangeSetID)

		return mq.UseCase.BuildViews(ctx, trigger.WorkspaceID, trigger.ChangeSetID, trigger.SnapshotAddress, true)
	case mmodel.MessageKindViewNewChangeSet:
		var cs mmodel.ChangeSet

		if err := envelope.Open(&cs); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("Bootstrapping view index for change set: %s", cs.ID)

		return mq.UseCase.BootstrapChangeSet(ctx, &cs)
	default:
		logger.Warnf("Ignoring unknown message kind %q", envelope.Kind)

		return nil
	}
}

package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"

	"github.com/weftworks/loom/components/rebaser/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/rebaser/internal/services"
	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/mmodel"
)

// MultiQueueConsumer consumes the per-change-set rebase stream. Both
// rebase requests and dependent-value runs arrive on the same queue,
// which is what serializes them per change set.
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

	routes.Register(cfg.RabbitMQRebaseQueue, consumer.handlerRebaseQueue)

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

// handlerRebaseQueue dispatches one envelope from the rebase stream.
func (mq *MultiQueueConsumer) handlerRebaseQueue(ctx context.Context, body []byte) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "app.handler_rebase_queue")
	defer span.End()

	var envelope mmodel.Envelope

	if err := json.Unmarshal(body, &envelope); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Error unmarshalling envelope JSON", err)

		logger.Errorf("Error unmarshalling rebase envelope JSON: %v", err)

		return err
	}

	switch envelope.Kind {
	case mmodel.MessageKindRebaseRequest:
		var req mmodel.RebaseRequest

		if err := envelope.Open(&req); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("Rebase request consumed: %s", req.ID)

		_, err := mq.UseCase.RebaseChangeSet(ctx, &req)
		if err != nil && !pkg.IsBusinessError(err) {
			libOpentelemetry.HandleSpanError(&span, "Error rebasing change set", err)

			return err
		}

		if err != nil {
			// Business rejections are terminal for the message; the
			// client learns about them through the async-error event.
			logger.Warnf("Rebase request %s rejected: %v", req.ID, err)
		}

		return nil
	case mmodel.MessageKindDependentValueRun:
		var trigger mmodel.ChangeSetUpdated

		if err := envelope.Open(&trigger); err != nil {
			// Deterministic rejection: a malformed or wrong-version
			// envelope never becomes processable, so it is dropped, not
			// redelivered.
			logger.Errorf("Rejecting envelope %s: %v", envelope.ID, pkg.ValidateBusinessError(err, "envelope", envelope.Version))

			return nil
		}

		logger.Infof("Dependent-value run consumed for change set: %s", trigger.ChangeSetID)

		err := mq.UseCase.RunDependentValues(ctx, trigger.WorkspaceID, trigger.ChangeSetID)
		if err != nil && !pkg.IsBusinessError(err) {
			libOpentelemetry.HandleSpanError(&span, "Error running dependent values", err)

			return err
		}

		if err != nil {
			logger.Warnf("Dependent-value run for %s rejected: %v", trigger.ChangeSetID, err)
		}

		return nil
	default:
		logger.Warnf("Ignoring unknown message kind %q", envelope.Kind)

		return nil
	}
}

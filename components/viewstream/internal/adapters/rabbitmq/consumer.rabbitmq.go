package rabbitmq

import (
	"context"
	"sync"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libLog "github.com/LerianStudio/lib-commons/v2/commons/log"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libRabbitmq "github.com/LerianStudio/lib-commons/v2/commons/rabbitmq"

	"github.com/weftworks/loom/pkg/constant"
)

// QueueHandler processes one delivery body.
type QueueHandler func(ctx context.Context, body []byte) error

// ConsumerRoutes binds queues to handlers over one rabbitmq connection.
// Each queue is consumed with prefetch 1 and a single worker, which is
// what serializes per-change-set work: one queue per change set, one
// in-flight delivery at a time.
type ConsumerRoutes struct {
	conn      *libRabbitmq.RabbitMQConnection
	logger    libLog.Logger
	telemetry *libOpentelemetry.Telemetry
	routes    map[string]QueueHandler
	mu        sync.Mutex
}

// NewConsumerRoutes creates a new instance of ConsumerRoutes.
func NewConsumerRoutes(conn *libRabbitmq.RabbitMQConnection, logger libLog.Logger, telemetry *libOpentelemetry.Telemetry) *ConsumerRoutes {
	cr := &ConsumerRoutes{
		conn:      conn,
		logger:    logger,
		telemetry: telemetry,
		routes:    make(map[string]QueueHandler),
	}

	_, err := conn.GetNewConnect()
	if err != nil {
		panic("Failed to connect rabbitmq")
	}

	return cr
}

// Register registers a handler for a queue.
func (cr *ConsumerRoutes) Register(queueName string, handler QueueHandler) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	cr.routes[queueName] = handler
}

// RunConsumers starts one consumer goroutine per registered queue.
// A delivery is acked only after its handler succeeds; failures are
// nacked with requeue so the broker redelivers. A delivery carrying the
// X-Final-Message header drains the consumer after processing.
func (cr *ConsumerRoutes) RunConsumers() error {
	for queueName, handler := range cr.routes {
		if err := cr.conn.Channel.Qos(1, 0, false); err != nil {
			return err
		}

		deliveries, err := cr.conn.Channel.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			return err
		}

		go func(queueName string, handler QueueHandler) {
			cr.logger.Infof("Starting consumer for queue: %s", queueName)

			for delivery := range deliveries {
				ctx := libCommons.ContextWithLogger(context.Background(), cr.logger)

				err := handler(ctx, delivery.Body)
				if err != nil {
					cr.logger.Errorf("Error processing message from queue %s: %v", queueName, err)

					_ = delivery.Nack(false, true)

					continue
				}

				_ = delivery.Ack(false)

				if _, final := delivery.Headers[constant.HeaderFinalMessage]; final {
					cr.logger.Infof("Final message observed on queue %s, draining consumer", queueName)

					_ = cr.conn.Channel.Cancel(delivery.ConsumerTag, false)

					return
				}
			}
		}(queueName, handler)
	}

	return nil
}

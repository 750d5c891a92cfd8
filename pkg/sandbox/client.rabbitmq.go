package sandbox

import (
	"context"
	"encoding/json"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libRabbitmq "github.com/LerianStudio/lib-commons/v2/commons/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and routing key of the sandbox request stream.
const (
	sandboxExchange   = "loom.sandbox"
	sandboxRoutingKey = "execute"
)

// RabbitMQClient talks to the sandbox over an AMQP request/response
// pair: requests publish to the sandbox exchange, responses stream back
// on an exclusive reply queue correlated by execution id.
type RabbitMQClient struct {
	conn *libRabbitmq.RabbitMQConnection
}

// NewRabbitMQClient returns a new instance using the given rabbitmq
// connection.
func NewRabbitMQClient(c *libRabbitmq.RabbitMQConnection) *RabbitMQClient {
	client := &RabbitMQClient{conn: c}

	_, err := c.GetNewConnect()
	if err != nil {
		panic("Failed to connect rabbitmq")
	}

	return client
}

// Execute implements Client.
func (c *RabbitMQClient) Execute(ctx context.Context, req *Request, timeout time.Duration, onEvent func(context.Context, *Event)) (*FunctionResult, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	replies, err := c.conn.Channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}

	deliveries, err := c.conn.Channel.Consume(replies.Name, req.ExecutionID, true, true, false, false, nil)
	if err != nil {
		return nil, err
	}

	req.TimeoutSecs = int(timeout / time.Second)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	err = c.conn.Channel.Publish(
		sandboxExchange,
		sandboxRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: req.ExecutionID,
			ReplyTo:       replies.Name,
			Body:          body,
		})
	if err != nil {
		logger.Errorf("Failed to publish sandbox request %s: %v", req.ExecutionID, err)

		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return &FunctionResult{Success: false, Kind: FailureKindCancelled, Message: "execution cancelled"}, nil
		case <-deadline.C:
			return &FunctionResult{Success: false, Kind: FailureKindTimeout, Message: "execution exceeded its timeout"}, nil
		case delivery, open := <-deliveries:
			if !open {
				return &FunctionResult{Success: false, Kind: FailureKindTransient, Message: "sandbox reply stream closed"}, nil
			}

			if delivery.CorrelationId != req.ExecutionID {
				continue
			}

			var event Event

			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				logger.Errorf("Dropping malformed sandbox event for %s: %v", req.ExecutionID, err)

				continue
			}

			if onEvent != nil {
				onEvent(ctx, &event)
			}

			if event.Kind == EventFunctionResult && event.Result != nil {
				return event.Result, nil
			}
		}
	}
}

package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"pos-service/models"
	"pos-service/services"

	"go.uber.org/zap"
)

// CallbackTokenAttribute names the SNS message attribute that carries the
// provider's x-callback-token across the relay.
const CallbackTokenAttribute = "x-callback-token"

// CallbackHandler authenticates a relayed callback with its token and applies
// it.
type CallbackHandler interface {
	HandleXenditCallback(ctx context.Context, token string, body []byte) (*models.WebhookResult, error)
}

// PaymentCallbackConsumer replays payment callbacks that were relayed through
// SNS/SQS into the same path the HTTP webhook uses, token check included.
type PaymentCallbackConsumer struct {
	handler CallbackHandler
	logger  *zap.Logger
}

func NewPaymentCallbackConsumer(handler CallbackHandler, logger *zap.Logger) *PaymentCallbackConsumer {
	return &PaymentCallbackConsumer{handler: handler, logger: logger}
}

type snsAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// relayEnvelope covers both the SNS → SQS wrapper and the relay's own
// {"callback_token", "callback"} body used for raw delivery.
type relayEnvelope struct {
	Type              string                  `json:"Type"`
	Message           string                  `json:"Message"`
	MessageAttributes map[string]snsAttribute `json:"MessageAttributes"`
	CallbackToken     string                  `json:"callback_token"`
	Callback          json.RawMessage         `json:"callback"`
}

// unwrap extracts the callback token and the provider's callback body.
func unwrap(body []byte) (token string, payload []byte, err error) {
	var env relayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, err
	}
	payload = body
	if env.Type == "Notification" {
		token = env.MessageAttributes[CallbackTokenAttribute].Value
		payload = []byte(env.Message)
		env = relayEnvelope{}
		if err := json.Unmarshal(payload, &env); err != nil {
			return "", nil, err
		}
	}
	if len(env.Callback) > 0 {
		if env.CallbackToken != "" {
			token = env.CallbackToken
		}
		payload = env.Callback
	}
	return token, payload, nil
}

// Handle processes one SQS message body. A nil return deletes the message;
// an error leaves it for redelivery.
func (c *PaymentCallbackConsumer) Handle(ctx context.Context, body string) error {
	token, payload, err := unwrap([]byte(body))
	if err != nil {
		c.logger.Error("failed to unmarshal SQS message body", zap.Error(err))
		return nil // unparseable, drop it
	}

	res, err := c.handler.HandleXenditCallback(ctx, token, payload)
	switch {
	case err == nil:
		c.logger.Info("Queued payment callback processed",
			zap.String("order_id", res.OrderID),
			zap.String("outcome", res.Outcome),
		)
		return nil
	case isPermanent(err):
		c.logger.Warn("Queued payment callback rejected", zap.Error(err))
		return nil
	default:
		c.logger.Error("failed to process payment callback", zap.Error(err))
		return err
	}
}

// isPermanent reports errors that redelivery cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, services.ErrUnauthorized) ||
		errors.Is(err, services.ErrNotFound) ||
		errors.Is(err, services.ErrValidation) ||
		errors.Is(err, services.ErrAmountMismatch)
}

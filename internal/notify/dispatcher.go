// Package notify publishes due-deletion notifications to the messaging broker
// that fronts GOV.UK Notify.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/config"
	"github.com/ras-rm/auth-service/internal/logging"
	"github.com/ras-rm/auth-service/types"
)

var (
	ErrTemplateNotFound = errors.New("notification template not found")
	ErrDeliveryTimeout  = errors.New("notification delivery timed out")
	ErrDeliveryError    = errors.New("notification delivery failed")
)

const defaultPublishTimeout = 30 * time.Second

// Publisher sends a payload to a broker channel and returns once the broker
// has acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Personaliser resolves the recipient's first name for the message template.
type Personaliser interface {
	FirstName(ctx context.Context, email string) (string, error)
}

type Config struct {
	Enabled        bool
	Topic          string
	Templates      map[types.Stage]string
	PublishTimeout time.Duration
}

// ConfigFrom maps the environment configuration onto a dispatcher Config.
func ConfigFrom(cfg config.NotifyConfig) Config {
	return Config{
		Enabled: cfg.Enabled,
		Topic:   cfg.Topic,
		Templates: map[types.Stage]string{
			types.StageFirst:  cfg.FirstTemplate,
			types.StageSecond: cfg.SecondTemplate,
			types.StageThird:  cfg.ThirdTemplate,
		},
		PublishTimeout: cfg.PublishTimeout,
	}
}

// Receipt describes the outcome of a successful Dispatch.
type Receipt struct {
	Stage      types.Stage
	TemplateID string
	MessageID  string
	// Sent is false when notifications are disabled and nothing was published.
	Sent bool
}

type message struct {
	Notify payload `json:"notify"`
}

type payload struct {
	EmailAddress    string            `json:"email_address"`
	TemplateID      string            `json:"template_id"`
	Personalisation map[string]string `json:"personalisation"`
}

// Dispatcher turns a stage notification into a broker message. It does not
// de-duplicate: callers stamp the account after a successful Dispatch.
type Dispatcher struct {
	cfg          Config
	publisher    Publisher
	personaliser Personaliser
	logger       *zap.Logger
}

// NewDispatcher constructs a Dispatcher. personaliser may be nil, in which
// case messages carry an empty personalisation.
func NewDispatcher(cfg Config, publisher Publisher, personaliser Personaliser, logger *zap.Logger) *Dispatcher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, publisher: publisher, personaliser: personaliser, logger: logger}
}

// Dispatch publishes the stage notification for acc. A nil error means the
// broker acknowledged the message, or notifications are disabled.
func (d *Dispatcher) Dispatch(ctx context.Context, acc types.Account, stage types.Stage) (Receipt, error) {
	if !stage.Valid() {
		return Receipt{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, stage)
	}
	receipt := Receipt{Stage: stage, TemplateID: d.cfg.Templates[stage]}

	logger := d.logger.With(logging.Email("email", acc.Username), zap.String("stage", stage.String()))
	if !d.cfg.Enabled {
		logger.Info("notification not sent, notify is disabled")
		return receipt, nil
	}
	if strings.TrimSpace(receipt.TemplateID) == "" {
		return Receipt{}, fmt.Errorf("%w: no template configured for %s stage", ErrTemplateNotFound, stage)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	personalisation, err := d.personalise(ctx, acc.Username)
	if err != nil {
		return Receipt{}, classify(err)
	}

	data, err := json.Marshal(message{Notify: payload{
		EmailAddress:    acc.Username,
		TemplateID:      receipt.TemplateID,
		Personalisation: personalisation,
	}})
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode message: %v", ErrDeliveryError, err)
	}

	logger.Info("publishing notification message", zap.String("topic", d.cfg.Topic))
	messageID, err := d.publisher.Publish(ctx, d.cfg.Topic, data, nil)
	if err != nil {
		logger.Error("notification publish failed", zap.String("topic", d.cfg.Topic), zap.Error(err))
		return Receipt{}, classify(err)
	}
	logger.Info("notification message published", zap.String("topic", d.cfg.Topic), zap.String("msg_id", messageID))

	receipt.MessageID = messageID
	receipt.Sent = true
	return receipt, nil
}

func (d *Dispatcher) personalise(ctx context.Context, email string) (map[string]string, error) {
	personalisation := map[string]string{}
	if d.personaliser == nil {
		return personalisation, nil
	}
	firstName, err := d.personaliser.FirstName(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("personalisation lookup: %w", err)
	}
	personalisation["FIRST_NAME"] = firstName
	return personalisation, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDeliveryTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrDeliveryError, err)
}

// Package service publishes ledger events to RabbitMQ.  Payouts are the
// ledger's transfer primitive and are published with broker confirms;
// ticket notifications are best effort.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/config"
	"github.com/iliyamo/occasion-ledger/internal/ledger"
	q "github.com/iliyamo/occasion-ledger/internal/queue"
)

// ErrNotConfirmed is returned when the broker nacks a payout.
var ErrNotConfirmed = errors.New("broker did not confirm publish")

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// Publisher opens a short-lived connection per message, declares the
// target queue (idempotent, durable) and publishes a persistent JSON body.
type Publisher struct {
	cfg     config.BrokerConfig
	logger  *logrus.Logger
	open    func() (channel, func() error, error)
	now     func() time.Time
	timeout time.Duration // bounds one publish including its confirm
}

const defaultPublishTimeout = 10 * time.Second

// NewPublisher returns a Publisher for the broker in cfg.
func NewPublisher(cfg config.BrokerConfig, logger *logrus.Logger) *Publisher {
	p := &Publisher{
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultPublishTimeout,
	}
	p.open = p.dial
	return p
}

func (p *Publisher) dial() (channel, func() error, error) {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, conn.Close, nil
}

// Pay implements ledger.Payee by publishing a PayoutEvent and waiting for
// the broker to confirm it.  The withdrawal ID is the AMQP message id, so
// consumers can drop re-sent payouts.  A confirm that never arrives wraps
// ledger.ErrPayoutPending: the broker may or may not hold the message.
func (p *Publisher) Pay(ctx context.Context, w ledger.Withdrawal) error {
	ev := q.PayoutEvent{
		ID:          w.ID,
		To:          string(w.To),
		Amount:      amountString(w.Amount),
		RequestedAt: p.now().Format(time.RFC3339Nano),
	}
	return p.publish(ctx, p.cfg.PayoutQueue, w.ID, ev, true)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PublishTicketMinted announces a minted ticket.  Errors are logged and
// returned so the caller can choose to ignore them.
func (p *Publisher) PublishTicketMinted(ctx context.Context, occasion string, t ledger.Ticket) error {
	ev := q.TicketMintedEvent{
		TokenID:      t.TokenID,
		OccasionID:   t.OccasionID,
		OccasionName: occasion,
		Seat:         t.Seat,
		Buyer:        string(t.Buyer),
		Paid:         t.Paid.String(),
		MintedAt:     t.MintedAt.UTC().Format(time.RFC3339Nano),
	}
	return p.publish(ctx, p.cfg.TicketQueue, uuid.NewString(), ev, false)
}

func (p *Publisher) publish(ctx context.Context, queueName, messageID string, v any, confirm bool) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	log := p.logger.WithContext(ctx).WithFields(logrus.Fields{"queue": queueName, "message_id": messageID})

	body, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("rabbitmq: marshal event failed")
		return err
	}

	ch, closeConn, err := p.open()
	if err != nil {
		log.WithError(err).Error("rabbitmq: connect failed")
		return err
	}
	defer func() {
		_ = ch.Close()
		_ = closeConn()
	}()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.WithError(err).Error("rabbitmq: queue declare failed")
		return err
	}
	if confirm {
		if err := ch.Confirm(false); err != nil {
			log.WithError(err).Error("rabbitmq: confirm mode failed")
			return err
		}
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    p.now(),
		Body:         body,
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queueName, false, false, pub)
	if err != nil {
		log.WithError(err).Error("rabbitmq: publish failed")
		return err
	}
	if confirm && dc != nil {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			log.WithError(err).Error("rabbitmq: waiting for confirm failed")
			return fmt.Errorf("%w: %v", ledger.ErrPayoutPending, err)
		}
		if !acked {
			log.Error("rabbitmq: publish nacked")
			return ErrNotConfirmed
		}
	}
	return nil
}

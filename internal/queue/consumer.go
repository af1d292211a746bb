package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/config"
)

// StartLedgerConsumer connects to RabbitMQ, declares the ticket and payout
// queues (durable) and appends every message to cfg.ActivityLog as one
// human-friendly line.  It reconnects with exponential backoff and returns
// only when ctx is cancelled.  A message that cannot be decoded or written
// is rejected without requeue so the loop keeps running.
func StartLedgerConsumer(ctx context.Context, cfg config.BrokerConfig, logger *logrus.Logger) error {
	seen := newPayoutSet(maxRememberedPayouts)
	backoff := time.Second
	for {
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			logger.WithError(err).Warnf("ledger-consumer: dial failed; retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, cfg, seen, logger)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(err).Warn("ledger-consumer: consume loop ended; reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, cfg config.BrokerConfig, seen *payoutSet, logger *logrus.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.WithError(err).Warn("ledger-consumer: set QoS failed")
	}

	var streams []<-chan amqp.Delivery
	for _, name := range []string{cfg.TicketQueue, cfg.PayoutQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		streams = append(streams, msgs)
	}

	tickets, payouts := streams[0], streams[1]
	for {
		var d amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-tickets:
		case d, ok = <-payouts:
		}
		if !ok {
			return errors.New("deliveries channel closed")
		}
		if d.RoutingKey == cfg.PayoutQueue && !seen.firstSeen(d.MessageId) {
			logger.WithField("message_id", d.MessageId).Info("ledger-consumer: duplicate payout dropped")
			_ = d.Ack(false)
			continue
		}
		line, err := FormatLine(d.RoutingKey, cfg, d.Body)
		if err == nil {
			err = AppendLine(cfg.ActivityLog, line)
		}
		if err != nil {
			logger.WithError(err).WithField("queue", d.RoutingKey).Error("ledger-consumer: handle message failed")
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
}

// maxRememberedPayouts bounds the payout ids kept for de-duplication.
const maxRememberedPayouts = 10000

// payoutSet remembers recent payout message ids.  Payouts may be re-sent
// under the same id after a restart; only the first delivery is logged.
type payoutSet struct {
	ids   map[string]struct{}
	order []string
	max   int
}

func newPayoutSet(max int) *payoutSet {
	return &payoutSet{ids: make(map[string]struct{}), max: max}
}

// firstSeen records id and reports whether it was new.  Messages without
// an id are always treated as new.
func (s *payoutSet) firstSeen(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) >= s.max {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// FormatLine renders a message body from the named queue as one log line.
func FormatLine(queueName string, cfg config.BrokerConfig, body []byte) (string, error) {
	switch queueName {
	case cfg.TicketQueue:
		var ev TicketMintedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal ticket: %w", err)
		}
		return fmt.Sprintf("[%s] Ticket minted | token_id=%d | occasion_id=%d | occasion=%q | seat=%d | buyer=%s | paid=%s\n",
			ev.MintedAt, ev.TokenID, ev.OccasionID, ev.OccasionName, ev.Seat, ev.Buyer, ev.Paid), nil
	case cfg.PayoutQueue:
		var ev PayoutEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal payout: %w", err)
		}
		return fmt.Sprintf("[%s] Funds withdrawn | payout_id=%s | to=%s | amount=%s\n", ev.RequestedAt, ev.ID, ev.To, ev.Amount), nil
	}
	return "", fmt.Errorf("unexpected queue %q", queueName)
}

// AppendLine appends line to the file at path, creating parent directories.
func AppendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

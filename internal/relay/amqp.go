package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const DefaultExchange = "cafe.events"

// AMQP publishes events to a durable topic exchange and waits for the
// broker's publisher confirm.
type AMQP struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger

	acks <-chan amqp.Confirmation
	mu   sync.Mutex
}

func Dial(url, exchange string, log zerolog.Logger) (*AMQP, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("relay channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("relay declare %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("relay confirm mode: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &AMQP{
		conn: conn, ch: ch, exchange: exchange, acks: acks,
		log: log.With().Str("component", "relay").Str("exchange", exchange).Logger(),
	}, nil
}

func (a *AMQP) Publish(ctx context.Context, e Event) error {
	body, err := e.Body()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn.IsClosed() {
		return errors.New("relay connection is closed")
	}
	key := e.RoutingKey()
	err = a.ch.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Type:         string(e.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("relay publish %s: %w", key, err)
	}
	select {
	case conf, ok := <-a.acks:
		if !ok {
			return errors.New("relay channel closed before confirm")
		}
		if !conf.Ack {
			return fmt.Errorf("relay publish %s: nack from broker", key)
		}
		a.log.Debug().Str("key", key).Msg("published")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AMQP) Close() error {
	var errs []error
	if a.ch != nil {
		errs = append(errs, a.ch.Close())
	}
	if a.conn != nil {
		errs = append(errs, a.conn.Close())
	}
	return errors.Join(errs...)
}

package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/bikebuddy/server/internal/core/ports"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStream(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeIngested delivers ingest events published from now on. Every API
// replica gets its own ephemeral consumer so each one invalidates its view.
func (s *Subscriber) SubscribeIngested(ctx context.Context, handler func(ctx context.Context, event ports.IngestEvent) error) error {
	sub, err := s.js.Subscribe(ingestedSubjects, func(msg *nats.Msg) {
		event, err := decodeIngestEvent(msg.Data)
		if err != nil {
			slog.Warn("dropping malformed ingest event", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, event); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func decodeIngestEvent(data []byte) (ports.IngestEvent, error) {
	var event ports.IngestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, err
	}
	if event.Category == "" {
		return event, fmt.Errorf("ingest event has no category")
	}
	return event, nil
}

// Ping reports whether the connection is up.
func (s *Subscriber) Ping(_ context.Context) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats: %s", s.conn.Status())
	}
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}

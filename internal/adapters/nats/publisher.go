package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
)

const (
	streamName       = "POI_EVENTS"
	ingestedSubjects = "pois.ingested.>"
)

// IngestedSubject returns the subject an ingest event for category is published on.
func IngestedSubject(category domain.Category) string {
	return "pois.ingested." + string(category)
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
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

	return &Publisher{conn: conn, js: js}, nil
}

// PublishIngested announces a written batch.
func (p *Publisher) PublishIngested(ctx context.Context, event ports.IngestEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(IngestedSubject(event.Category), data, nats.Context(ctx))
	return err
}

// Ping reports whether the connection is up.
func (p *Publisher) Ping(_ context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats: %s", p.conn.Status())
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

func connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

func ensureStream(js nats.JetStreamContext) error {
	cfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{ingestedSubjects},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		// Stream may already exist; try update
		if _, err := js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

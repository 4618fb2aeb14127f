package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes wallet events to NATS.
type Publisher interface {
	// PublishSession publishes a session change to "wallet.session".
	PublishSession(ctx context.Context, event *SessionEvent) error

	// PublishTransaction publishes a transaction status change to
	// "wallet.txns.{hash}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes wallet events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for wallet events.
	StreamName = "WALLET"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "wallet.>"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("counterwallet-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)
	return publisher, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if stream, err := p.js.Stream(ctx, StreamName); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Wallet session and transaction lifecycle events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishSession publishes a session event.
func (p *JetStreamPublisher) PublishSession(ctx context.Context, event *SessionEvent) error {
	if err := p.publish(ctx, SessionSubject, "session", event); err != nil {
		return fmt.Errorf("failed to publish session: %w", err)
	}
	p.logger.Debug("published session event",
		"status", event.Status,
		"address", event.Address,
		"chain_id", event.ChainID,
	)
	return nil
}

// PublishTransaction publishes a transaction event.
func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	subject := TransactionSubject(event.Hash)
	if err := p.publish(ctx, subject, "txns", event); err != nil {
		return fmt.Errorf("failed to publish transaction: %w", err)
	}
	p.logger.Debug("published transaction event",
		"subject", subject,
		"status", event.Status,
	)
	return nil
}

// publish sends v to subject; kind is the bounded metrics label for subject.
func (p *JetStreamPublisher) publish(ctx context.Context, subject, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(kind, status, time.Since(start).Seconds())
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

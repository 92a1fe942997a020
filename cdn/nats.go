package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/eringen/pagepress/logfields"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "pagepress.cdn.invalidate"

// Request is the message body consumed by the edge purger.
type Request struct {
	DistributionID  string    `json:"distributionId"`
	Paths           []string  `json:"paths"`
	CallerReference string    `json:"callerReference"`
	RequestedAt     time.Time `json:"requestedAt"`
}

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes invalidation requests to a JetStream subject.
type NATS struct {
	conn    *nats.Conn
	js      publisher
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// NATSConfig configures the JetStream invalidator.
type NATSConfig struct {
	URL     string
	Subject string
	// Stream, when set, is created or updated to capture Subject.
	Stream string
}

// NewNATS connects to NATS and prepares the JetStream context.
func NewNATS(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("cdn: NATS URL is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("pagepress"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if cfg.Stream != "" {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Description: "CDN invalidation requests",
			Subjects:    []string{cfg.Subject},
			MaxAge:      24 * time.Hour,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
		}
	}

	logger.Info("NATS invalidator initialized", slog.String("url", cfg.URL), slog.String("subject", cfg.Subject))
	n := newNATS(js, cfg.Subject, logger)
	n.conn = conn
	return n, nil
}

func newNATS(js publisher, subject string, logger *slog.Logger) *NATS {
	return &NATS{js: js, subject: subject, logger: logger, now: time.Now}
}

func (n *NATS) Invalidate(ctx context.Context, distributionID string, paths []string) error {
	paths = NormalizePaths(paths)
	if len(paths) == 0 {
		return nil
	}
	req := Request{
		DistributionID:  distributionID,
		Paths:           paths,
		CallerReference: uuid.NewString(),
		RequestedAt:     n.now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if _, err := n.js.Publish(ctx, n.subject, data, jetstream.WithMsgID(req.CallerReference)); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	n.logger.DebugContext(ctx, "Published CDN invalidation",
		slog.String("distribution", distributionID),
		slog.String("reference", req.CallerReference),
		logfields.Count(len(paths)))
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

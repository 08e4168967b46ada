// Package queue accepts ingestion requests over NATS. Workers join a queue
// group so each message is handled by exactly one instance.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/models"
)

// Message is the body of an ingestion request.
type Message struct {
	ScopeID  string           `json:"scope_id"`
	Document *models.Document `json:"document"`
}

// Submitter ingests one document. The ingest pipeline satisfies it.
type Submitter interface {
	Submit(ctx context.Context, scopeID string, doc *models.Document) models.IngestStatus
}

// Subscriber consumes ingestion requests from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	cfg     config.QueueConfig
	handler Submitter
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// WithTimeout bounds the time spent ingesting one message.
func WithTimeout(d time.Duration) Option {
	return func(s *Subscriber) { s.timeout = d }
}

// NewSubscriber returns a subscriber that is not yet connected.
func NewSubscriber(cfg config.QueueConfig, handler Submitter, opts ...Option) *Subscriber {
	s := &Subscriber{cfg: cfg, handler: handler, timeout: 5 * time.Minute, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Start connects and joins the configured queue group. Messages are handled
// on the subscription's goroutine until ctx is cancelled or Close is called.
func (s *Subscriber) Start(ctx context.Context) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("kirinuki"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	sub, err := nc.QueueSubscribe(s.cfg.Subject, s.cfg.Group, func(msg *nats.Msg) {
		s.onMessage(ctx, msg)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Subject, err)
	}
	s.nc, s.sub = nc, sub
	s.logger.Info("queue subscribed",
		zap.String("url", s.cfg.URL), zap.String("subject", s.cfg.Subject), zap.String("group", s.cfg.Group))

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *Subscriber) onMessage(ctx context.Context, msg *nats.Msg) {
	reply, ok := s.Process(ctx, msg.Data)
	if !ok || msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Warn("failed to reply to ingest request", zap.String("reply", msg.Reply), zap.Error(err))
	}
}

// Process handles one message body and returns the JSON-encoded status to
// reply with. Undecodable messages are logged and dropped (ok is false).
func (s *Subscriber) Process(ctx context.Context, data []byte) ([]byte, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("dropping undecodable ingest message", zap.Int("bytes", len(data)), zap.Error(err))
		return nil, false
	}
	if m.Document == nil {
		s.logger.Warn("dropping ingest message without document", zap.String("scope_id", m.ScopeID))
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	st := s.handler.Submit(ctx, m.ScopeID, m.Document)
	s.logger.Info("queued document processed",
		zap.String("doc_id", st.DocID), zap.String("scope_id", m.ScopeID),
		zap.String("status", st.Status), zap.Int("chunks", st.Chunks))

	reply, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("failed to encode ingest status", zap.Error(err))
		return nil, false
	}
	return reply, true
}

// Close leaves the queue group and closes the connection after draining.
func (s *Subscriber) Close() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}

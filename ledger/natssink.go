package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/veridoc/narrative/compliance"
)

// DefaultAuditSubject is the JetStream subject audits are published to.
const DefaultAuditSubject = "audit.narrative.generation"

// NATSSink publishes audit records to a JetStream subject, giving the
// append-only external ledger. The stream itself is owned by the platform,
// not this package.
type NATSSink struct {
	js      jetstream.JetStream
	subject string
	logger  *slog.Logger
}

// NATSSinkOption configures a NATSSink.
type NATSSinkOption func(*NATSSink)

// WithSubject overrides the publish subject.
func WithSubject(subject string) NATSSinkOption {
	return func(s *NATSSink) {
		if subject != "" {
			s.subject = subject
		}
	}
}

// WithSinkLogger sets the logger.
func WithSinkLogger(logger *slog.Logger) NATSSinkOption {
	return func(s *NATSSink) {
		s.logger = logger
	}
}

// NewNATSSink creates a JetStream-backed audit sink over an established
// NATS connection.
func NewNATSSink(nc *nats.Conn, opts ...NATSSinkOption) (*NATSSink, error) {
	if nc == nil {
		return nil, fmt.Errorf("NATS connection required")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	s := &NATSSink{
		js:      js,
		subject: DefaultAuditSubject,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append publishes one audit record.
func (s *NATSSink) Append(ctx context.Context, audit *compliance.Audit) error {
	if audit.ID == "" {
		return fmt.Errorf("audit id is required")
	}

	data, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal audit: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.subject, data); err != nil {
		return fmt.Errorf("publish audit: %w", err)
	}

	s.logger.Debug("Published generation audit",
		"audit_id", audit.ID,
		"subject", s.subject,
		"model", audit.Model)

	return nil
}

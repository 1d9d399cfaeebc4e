package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when NATSConfig.SubjectPrefix is empty.
const DefaultSubjectPrefix = "statements.jobs"

type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	MaxReconnects int
}

// msgPublisher is the part of *nats.Conn the publisher needs.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATS publishes each event as JSON on "<prefix>.<status>".
type NATS struct {
	conn   msgPublisher
	prefix string
	log    *slog.Logger
	close  func()
}

// Connect dials the NATS server and returns a publisher owning the connection.
func Connect(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if cfg.Name == "" {
		cfg.Name = "statementsd"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := NewNATS(nc, cfg.SubjectPrefix, logger)
	p.close = nc.Close
	return p, nil
}

func NewNATS(conn msgPublisher, prefix string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix, log: logger}
}

// Subject returns the subject an event with the given status is published on.
func (p *NATS) Subject(status string) string {
	return p.prefix + "." + status
}

func (p *NATS) Publish(ctx context.Context, ev JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.Subject(ev.Status),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Event-Type", ev.Type)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s for %s: %w", ev.Type, ev.Filename, err)
	}
	p.log.Debug("event published",
		slog.String("subject", msg.Subject),
		slog.String("type", ev.Type),
		slog.String("filename", ev.Filename),
	)
	return nil
}

// Close releases the connection when the publisher owns it.
func (p *NATS) Close() {
	if p.close != nil {
		p.close()
	}
}

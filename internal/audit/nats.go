package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/systmms/cfgstore/internal/logging"
)

// natsPublisher is the part of *nats.Conn the sink needs.
type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSSink publishes each event on <prefix>.<event type>.
type NATSSink struct {
	conn   natsPublisher
	prefix string
}

// DialNATS connects to url and returns a sink publishing under prefix.
func DialNATS(url, prefix string, logger *logging.Logger) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("cfgstore-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("audit: disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("audit: reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return NewNATSSink(nc, prefix), nil
}

func NewNATSSink(conn natsPublisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "cfgstore.audit"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.prefix+"."+e.Subject(), data); err != nil {
		return err
	}
	return s.conn.FlushWithContext(ctx)
}

func (s *NATSSink) Close() error {
	if s.conn == nil {
		return errors.New("nats sink not initialized")
	}
	s.conn.Close()
	return nil
}

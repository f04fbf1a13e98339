package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is subscribed to when none is configured.
const DefaultSubject = "lookout.trigger"

// NATSSource fires once per message on Subject.
type NATSSource struct {
	URL     string
	Subject string
	Logger  Logger
}

func NewNATSSource(url, subject string, logger Logger) *NATSSource {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &NATSSource{URL: url, Subject: subject, Logger: logger}
}

func (s *NATSSource) Name() string { return "nats:" + s.Subject }

// Run connects, subscribes and blocks until ctx is done. The connection
// reconnects on its own while ctx is live.
func (s *NATSSource) Run(ctx context.Context, fire func()) error {
	nc, err := nats.Connect(s.URL,
		nats.Name("lookout-trigger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.Logger.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.Logger.Printf("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", s.URL, err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(s.Subject, func(msg *nats.Msg) {
		s.Logger.Debugf("Trigger received on %s (%d bytes)", msg.Subject, len(msg.Data))
		fire()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.Subject, err)
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.Subject, err)
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		s.Logger.Debugf("Failed to unsubscribe from %s: %v", s.Subject, err)
	}
	return nil
}

// Package messaging provides a NATS client wrapper used to fan out friend
// notifications and presence deltas across server instances. A friend may be
// connected to a different instance than the user generating the event, so
// every notification and presence transition is also published on NATS and
// delivered locally by whichever instance holds the target's sessions.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectNotify   = "notify"   // + .<user_id>  (friend/notification events)
	SubjectPresence = "presence" // + .online / .offline (user presence deltas)
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "anichat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishNotify publishes a notification payload for a specific user. Every
// instance delivers it to whatever sessions of that user it holds locally.
func (c *NATSClient) PublishNotify(userID string, data []byte) error {
	return c.Publish(SubjectNotify+"."+userID, data)
}

// SubscribeNotify subscribes to all user notification subjects and passes
// the target user ID plus raw payload to the handler.
func (c *NATSClient) SubscribeNotify(handler func(userID string, data []byte)) error {
	subject := SubjectNotify + ".*"
	return c.Subscribe(subject, func(msg *nats.Msg) {
		userID := msg.Subject[len(SubjectNotify)+1:]
		handler(userID, msg.Data)
	})
}

// PublishPresence publishes a presence transition ("online" or "offline")
// for a user.
func (c *NATSClient) PublishPresence(transition, userID string) error {
	return c.Publish(SubjectPresence+"."+transition, []byte(userID))
}

// SubscribePresence subscribes to both presence transition subjects.
func (c *NATSClient) SubscribePresence(handler func(transition, userID string)) error {
	subject := SubjectPresence + ".*"
	return c.Subscribe(subject, func(msg *nats.Msg) {
		transition := msg.Subject[len(SubjectPresence)+1:]
		handler(transition, string(msg.Data))
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

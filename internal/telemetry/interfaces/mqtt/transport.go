package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Message is one inbound transport message.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Transport is a broker connection the coordinator drives. Reconnects are
// owned by the caller, so a lost connection is reported once on Lost.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, handler func(Message)) error
	Lost() <-chan error
	Disconnect()
}

// BrokerConfig configures the paho transport.
type BrokerConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TLS            bool
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	CleanSession   bool
}

// PahoTransport implements Transport over the Eclipse Paho client.
type PahoTransport struct {
	cfg BrokerConfig

	mu     sync.Mutex
	client paho.Client
	lost   chan error
}

// NewPahoTransport constructs a transport. The client is created on Connect.
func NewPahoTransport(cfg BrokerConfig) (*PahoTransport, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt transport: empty broker url")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("mqtt transport: empty client id")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &PahoTransport{cfg: cfg, lost: make(chan error, 1)}, nil
}

func (t *PahoTransport) options(lost chan error) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(t.cfg.CleanSession).
		SetKeepAlive(t.cfg.KeepAlive).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})
	return opts
}

// Connect opens a fresh broker connection.
func (t *PahoTransport) Connect(ctx context.Context) error {
	lost := make(chan error, 1)
	client := paho.NewClient(t.options(lost))
	if err := waitToken(ctx, client.Connect(), t.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.BrokerURL, err)
	}
	t.mu.Lock()
	t.client = client
	t.lost = lost
	t.mu.Unlock()
	return nil
}

// Subscribe registers handler for topic on the current connection.
func (t *PahoTransport) Subscribe(ctx context.Context, topic string, qos byte, handler func(Message)) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return errors.New("mqtt subscribe: not connected")
	}
	token := client.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload(), ReceivedAt: time.Now().UTC()})
	})
	if err := waitToken(ctx, token, t.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Lost fires when the current connection drops.
func (t *PahoTransport) Lost() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

// Disconnect closes the current connection, if any.
func (t *PahoTransport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout")
	}
}

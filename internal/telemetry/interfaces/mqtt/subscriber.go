package mqtt

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"facade-monitor/internal/observability/metrics"
	telemetryapp "facade-monitor/internal/telemetry/application"
	"facade-monitor/internal/telemetry/domain"
)

// State is the connection state of the coordinator.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateConsuming    State = "consuming"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateSubscribed),
	string(StateConsuming),
}

// DefaultTopic is the wildcard telemetry topic.
const DefaultTopic = "sensors/+/all"

// Ingester fans a decoded envelope out to the sinks.
type Ingester interface {
	Ingest(ctx context.Context, env telemetry.Envelope) telemetryapp.Result
}

// CoordinatorConfig configures subscription and the worker pool.
type CoordinatorConfig struct {
	Topic         string
	QoS           byte
	Workers       int
	QueueSize     int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	DrainTimeout  time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 16
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	return c
}

// Backoff returns the reconnect delay for attempt: base times attempt,
// capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// Coordinator keeps a subscription alive and hands every message to a
// bounded worker pool for decoding and ingestion.
type Coordinator struct {
	transport Transport
	ingester  Ingester
	cfg       CoordinatorConfig
	logger    *log.Logger
	sleep     func(ctx context.Context, d time.Duration) bool

	stateMu sync.Mutex
	state   State

	jobsMu sync.RWMutex
	closed bool
	jobs   chan Message
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(transport Transport, ingester Ingester, cfg CoordinatorConfig, logger *log.Logger) (*Coordinator, error) {
	if transport == nil {
		return nil, errors.New("mqtt coordinator: nil transport")
	}
	if ingester == nil {
		return nil, errors.New("mqtt coordinator: nil ingester")
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		transport: transport,
		ingester:  ingester,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepContext,
		state:     StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Coordinator) setState(state State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
	metrics.SetTransportState(string(state), allStates)
}

// Run connects, subscribes and consumes until ctx is canceled, reconnecting
// with linear backoff. On return no new messages are accepted and in-flight
// handlers have finished or the drain timeout has passed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.startWorkers(context.WithoutCancel(ctx))
	defer c.drain()

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}

		c.setState(StateConnecting)
		err := c.transport.Connect(ctx)
		if err == nil {
			err = c.transport.Subscribe(ctx, c.cfg.Topic, c.cfg.QoS, c.dispatch)
		}
		if err != nil {
			c.transport.Disconnect()
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			delay := Backoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, attempt)
			c.logger.Printf("mqtt coordinator: connect failed (attempt %d), retrying in %s: %v", attempt, delay, err)
			metrics.IncReconnect()
			if !c.sleep(ctx, delay) {
				return nil
			}
			continue
		}

		attempt = 0
		c.setState(StateSubscribed)
		c.logger.Printf("mqtt coordinator: subscribed to %s", c.cfg.Topic)

		select {
		case <-ctx.Done():
			c.transport.Disconnect()
			c.setState(StateDisconnected)
			return nil
		case lostErr := <-c.transport.Lost():
			c.transport.Disconnect()
			c.setState(StateDisconnected)
			attempt++
			delay := Backoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, attempt)
			c.logger.Printf("mqtt coordinator: connection lost, reconnecting in %s: %v", delay, lostErr)
			metrics.IncReconnect()
			if !c.sleep(ctx, delay) {
				return nil
			}
		}
	}
}

func (c *Coordinator) startWorkers(ctx context.Context) {
	c.jobs = make(chan Message, c.cfg.QueueSize)
	c.stop = make(chan struct{})
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range c.jobs {
				c.handle(ctx, msg)
			}
		}()
	}
}

// dispatch is called from the transport for every inbound message.
func (c *Coordinator) dispatch(msg Message) {
	c.jobsMu.RLock()
	defer c.jobsMu.RUnlock()
	if c.closed {
		return
	}
	c.stateMu.Lock()
	if c.state == StateSubscribed {
		c.state = StateConsuming
		c.stateMu.Unlock()
		metrics.SetTransportState(string(StateConsuming), allStates)
	} else {
		c.stateMu.Unlock()
	}
	select {
	case c.jobs <- msg:
	case <-c.stop:
	}
}

func (c *Coordinator) handle(ctx context.Context, msg Message) {
	env, err := Decode(msg.Topic, msg.Payload, msg.ReceivedAt)
	if err != nil {
		metrics.IncDecodeError(DecodeErrorReason(err))
		c.logger.Printf("mqtt coordinator: dropped message on %s: %v", msg.Topic, err)
		return
	}
	c.ingester.Ingest(ctx, env)
}

func (c *Coordinator) drain() {
	close(c.stop)
	c.jobsMu.Lock()
	c.closed = true
	close(c.jobs)
	c.jobsMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		c.logger.Printf("mqtt coordinator: drained in-flight messages")
	case <-timer.C:
		c.logger.Printf("mqtt coordinator: drain timeout after %s", c.cfg.DrainTimeout)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

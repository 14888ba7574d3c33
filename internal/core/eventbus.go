// Package core provides the gateway's embedded event bus
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EventBus is an in-process NATS server plus a client connection to it
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   []*nats.Subscription
	subsMu sync.Mutex
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	// Host for the NATS listener (default: 127.0.0.1)
	Host string
	// Port for the NATS listener; 0 picks a free port
	Port int
}

// NewEventBus starts an embedded NATS server and connects to it
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}

	ns, err := server.NewServer(&server.Options{
		Host:   cfg.Host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("eneverre"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
	}
	eb.logger.Info("Event bus started", "url", ns.ClientURL())
	return eb, nil
}

// ClientURL returns the NATS client URL
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish marshals data as JSON and publishes it on subject
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe registers handler for subject; wildcards are allowed
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs = append(eb.subs, sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Flush waits until the server has processed everything published so far
func (eb *EventBus) Flush() error {
	return eb.conn.Flush()
}

// Stop drains subscriptions and shuts the server down
func (eb *EventBus) Stop() {
	eb.subsMu.Lock()
	for _, sub := range eb.subs {
		_ = sub.Unsubscribe()
	}
	eb.subs = nil
	eb.subsMu.Unlock()

	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// HealthCheck verifies the client connection is up and the server answers
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := eb.conn.RequestWithContext(ctx, "_health", []byte("ping"))
	if errors.Is(err, nats.ErrNoResponders) {
		return nil
	}
	return err
}

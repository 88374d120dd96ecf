// Package bus provides a bounded background work queue for pattern
// extraction jobs: an in-process embedded NATS server, a
// thin publish/queue-subscribe client wrapper, and a saturation-aware
// dispatcher that falls back to running a job synchronously when the queue
// is backed up rather than ever dropping it.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// Subject names for background job classes. Only SubjectExtraction is
// published and subscribed; nothing publishes on SubjectEffectiveness.
const (
	SubjectExtraction   = "memory.extraction"
	SubjectEffectiveness = "memory.effectiveness"
)

const queueGroup = "memory-workers"

// Message is subject plus raw payload, insulating callers from the nats.go
// Msg type directly.
type Message struct {
	Subject string
	Data    []byte
}

// Bus wraps an embedded NATS server and one connected client, giving the
// engine a private in-process queue with no external broker dependency.
type Bus struct {
	server *natsserver.Server
	conn   *nc.Conn
}

// Start boots an embedded NATS server on an ephemeral loopback port (port
// -1 makes the server pick a random free port, avoiding collisions with any
// other instance on the host) and connects a client to it.
func Start(clientName string) (*Bus, error) {
	opts := &natsserver.Options{
		Host:     "127.0.0.1",
		Port:     -1,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}

	conn, err := nc.Connect(srv.ClientURL(),
		nc.Name(clientName),
		nc.ReconnectWait(time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[BUS] disconnected: %v", err)
			}
		}),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}

	return &Bus{server: srv, conn: conn}, nil
}

// Publish sends a JSON-encoded payload to subject.
func (b *Bus) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// QueueSubscribe registers handler on subject within the shared worker
// queue group, so N subscribers on the same subject load-balance work
// rather than each receiving every message.
func (b *Bus) QueueSubscribe(subject string, handler func(Message)) (*nc.Subscription, error) {
	return b.conn.QueueSubscribe(subject, queueGroup, func(msg *nc.Msg) {
		handler(Message{Subject: msg.Subject, Data: msg.Data})
	})
}

// Close drains and closes the client connection, then shuts down the
// embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}

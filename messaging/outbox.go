package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rolltrack/docstore"
	"rolltrack/logger"
)

const (
	CollectionOutbox     = "outbox"
	CollectionDeadLetter = "outboxDead"
)

type OutboxMessage struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Envelope  json.RawMessage `json:"envelope"`
	Retries   int             `json:"retries"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Outbox keeps messages waiting for the broker in the document store, so
// events survive a broker outage or a restart.
type Outbox struct {
	db    docstore.Adapter
	clock func() time.Time
}

func NewOutbox(db docstore.Adapter) *Outbox {
	return &Outbox{db: db, clock: time.Now}
}

// Enqueue stores env for later delivery to topic. IDs sort in creation
// order.
func (o *Outbox) Enqueue(ctx context.Context, topic string, env *Envelope) (*OutboxMessage, error) {
	body, err := env.Encode()
	if err != nil {
		return nil, err
	}
	now := o.clock().UTC()
	msg := OutboxMessage{
		ID:        fmt.Sprintf("%020d-%s", now.UnixNano(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		Topic:     topic,
		Type:      env.Type,
		Envelope:  body,
		CreatedAt: now,
	}
	doc, err := docstore.Marshal(msg.ID, msg)
	if err != nil {
		return nil, err
	}
	if err := o.db.BatchWrite(ctx, []docstore.Op{docstore.Add(CollectionOutbox, doc)}); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", env.Type, err)
	}
	return &msg, nil
}

// Pending returns up to limit messages, oldest first. limit <= 0 means all.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	return o.read(ctx, CollectionOutbox, limit)
}

func (o *Outbox) DeadLetters(ctx context.Context) ([]OutboxMessage, error) {
	return o.read(ctx, CollectionDeadLetter, 0)
}

func (o *Outbox) read(ctx context.Context, collection string, limit int) ([]OutboxMessage, error) {
	docs, err := o.db.ReadCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]OutboxMessage, 0, len(docs))
	for _, d := range docs {
		var m OutboxMessage
		if err := json.Unmarshal(d.Body, &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, d.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Ack removes a delivered message.
func (o *Outbox) Ack(ctx context.Context, id string) error {
	return o.db.BatchWrite(ctx, []docstore.Op{docstore.Delete(CollectionOutbox, id)})
}

// Retry records a failed delivery attempt.
func (o *Outbox) Retry(ctx context.Context, msg OutboxMessage, cause error) error {
	msg.Retries++
	msg.LastError = cause.Error()
	doc, err := docstore.Marshal(msg.ID, msg)
	if err != nil {
		return err
	}
	return o.db.BatchWrite(ctx, []docstore.Op{docstore.Update(CollectionOutbox, doc)})
}

// Bury moves a message that keeps failing to the dead-letter collection in
// one batch.
func (o *Outbox) Bury(ctx context.Context, msg OutboxMessage) error {
	doc, err := docstore.Marshal(msg.ID, msg)
	if err != nil {
		return err
	}
	return o.db.BatchWrite(ctx, []docstore.Op{
		docstore.Add(CollectionDeadLetter, doc),
		docstore.Delete(CollectionOutbox, msg.ID),
	})
}

// Publisher is the part of Client the drainer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	outbox     *Outbox
	pub        Publisher
	interval   time.Duration
	maxRetries int
	log        *logger.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewOutboxDrainer(outbox *Outbox, pub Publisher, interval time.Duration, maxRetries int, log *logger.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OutboxDrainer{
		outbox:     outbox,
		pub:        pub,
		interval:   interval,
		maxRetries: maxRetries,
		log:        log.With("component", "outbox"),
		stopChan:   make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.interval)
			if _, err := d.Drain(ctx); err != nil {
				d.log.Warn("outbox drain failed", "err", err)
			}
			cancel()
		}
	}
}

// Drain publishes one round of pending messages and returns how many were
// delivered. Nothing is attempted while the broker is disconnected.
func (d *OutboxDrainer) Drain(ctx context.Context) (int, error) {
	if !d.pub.IsConnected() {
		return 0, nil
	}
	msgs, err := d.outbox.Pending(ctx, 50)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(ctx, msg.Topic, msg.Envelope); err != nil {
			d.log.Warn("outbox publish failed", "id", msg.ID, "type", msg.Type, "topic", msg.Topic, "retries", msg.Retries, "err", err)
			if d.maxRetries > 0 && msg.Retries+1 >= d.maxRetries {
				if err := d.outbox.Bury(ctx, msg); err != nil {
					d.log.Error("outbox dead-letter failed", "id", msg.ID, "err", err)
				} else {
					d.log.Error("outbox message dead-lettered", "id", msg.ID, "type", msg.Type)
				}
				continue
			}
			if err := d.outbox.Retry(ctx, msg, err); err != nil {
				d.log.Error("outbox retry update failed", "id", msg.ID, "err", err)
			}
			continue
		}
		if err := d.outbox.Ack(ctx, msg.ID); err != nil {
			d.log.Error("outbox ack failed", "id", msg.ID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rolltrack/docstore"
	"rolltrack/engine"
	"rolltrack/store"
)

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	fail      map[string]bool // by message type
	sent      []*Envelope
	topics    []string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[env.Type] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, env)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func testEngine(t *testing.T, db docstore.Adapter) *engine.Engine {
	t.Helper()
	return engine.New(engine.Config{Store: store.New(db), LabelBaseURL: "https://labels.example.com"})
}

func TestEnvelope_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope("master_slit", "slitter-1", ts, engine.MasterSlitEvent{QRValue: "A1-S1", Widths: []int{225, 241}})
	if err != nil {
		t.Fatal(err)
	}
	if env.ID == "" {
		t.Fatal("envelope id not set")
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "master_slit" || got.Station != "slitter-1" || !got.Timestamp.Equal(ts) || got.ID != env.ID {
		t.Fatalf("envelope = %+v", got)
	}
	var p engine.MasterSlitEvent
	if err := got.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.QRValue != "A1-S1" || len(p.Widths) != 2 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
	if _, err := DecodeEnvelope([]byte(`{"id":"x","payload":{}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestOutbox_EnqueueOrder(t *testing.T) {
	ob := NewOutbox(docstore.NewMemoryStore())
	tick := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	ob.clock = func() time.Time { tick = tick.Add(time.Millisecond); return tick }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env, _ := NewEnvelope(fmt.Sprintf("evt_%d", i), "s", time.Time{}, map[string]int{"n": i})
		if _, err := ob.Enqueue(ctx, "rolltrack.events", env); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := ob.Pending(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Type != "evt_0" || msgs[1].Type != "evt_1" {
		t.Fatalf("pending = %+v", msgs)
	}
}

func TestOutboxDrainer_PublishRetryAndBury(t *testing.T) {
	ob := NewOutbox(docstore.NewMemoryStore())
	ctx := context.Background()
	for _, typ := range []string{"label_created", "master_slit"} {
		env, _ := NewEnvelope(typ, "s", time.Time{}, struct{}{})
		if _, err := ob.Enqueue(ctx, "rolltrack.events", env); err != nil {
			t.Fatal(err)
		}
	}

	pub := &fakePublisher{fail: map[string]bool{"master_slit": true}}
	d := NewOutboxDrainer(ob, pub, time.Hour, 3, nil)

	// disconnected: nothing happens
	if n, err := d.Drain(ctx); err != nil || n != 0 {
		t.Fatalf("drain while disconnected = %d, %v", n, err)
	}
	pub.connected = true

	n, err := d.Drain(ctx)
	if err != nil || n != 1 {
		t.Fatalf("drain = %d, %v", n, err)
	}
	if len(pub.sent) != 1 || pub.sent[0].Type != "label_created" || pub.topics[0] != "rolltrack.events" {
		t.Fatalf("sent = %+v", pub.sent)
	}
	pending, _ := ob.Pending(ctx, 0)
	if len(pending) != 1 || pending[0].Retries != 1 || pending[0].LastError == "" {
		t.Fatalf("pending after failure = %+v", pending)
	}

	d.Drain(ctx)
	d.Drain(ctx)
	pending, _ = ob.Pending(ctx, 0)
	if len(pending) != 0 {
		t.Fatalf("message should be dead-lettered, pending = %+v", pending)
	}
	dead, _ := ob.DeadLetters(ctx)
	if len(dead) != 1 || dead[0].Type != "master_slit" || dead[0].Retries != 2 {
		t.Fatalf("dead letters = %+v", dead)
	}
}

func TestOutboxDrainer_StartStop(t *testing.T) {
	ob := NewOutbox(docstore.NewMemoryStore())
	env, _ := NewEnvelope("label_created", "s", time.Time{}, struct{}{})
	if _, err := ob.Enqueue(context.Background(), "t", env); err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{connected: true}
	d := NewOutboxDrainer(ob, pub, 10*time.Millisecond, 0, nil)
	d.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.sent)
		pub.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("drainer never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.Stop()
	d.Stop()
}

func TestBridge_WritesEngineEvents(t *testing.T) {
	db := docstore.NewMemoryStore()
	e := testEngine(t, db)
	ob := NewOutbox(db)
	b := NewBridge(ob, "rolltrack.events", "slitter-1", 16, nil)
	b.Attach(e.Events)
	b.Start()

	ctx := context.Background()
	if _, err := e.GenerateLabel(ctx, "A1", "S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RegisterMasterRoll(ctx, "A1-S1"); err != nil {
		t.Fatal(err)
	}
	b.Stop()

	msgs, err := ob.Pending(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("outbox = %d messages, want 2", len(msgs))
	}
	env, err := DecodeEnvelope(msgs[1].Envelope)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != "master_registered" || env.Station != "slitter-1" || msgs[1].Topic != "rolltrack.events" {
		t.Fatalf("envelope = %+v", env)
	}
	var p engine.MasterRegisteredEvent
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.QRValue != "A1-S1" {
		t.Fatalf("payload = %+v, %v", p, err)
	}
}

func TestBridge_DropsWhenFull(t *testing.T) {
	b := NewBridge(NewOutbox(docstore.NewMemoryStore()), "t", "s", 1, nil)
	b.enqueue(engine.Event{Type: engine.EventLabelCreated})
	b.enqueue(engine.Event{Type: engine.EventLabelCreated})
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
}

func commandEnvelope(t *testing.T, typ string, cmd Command) []byte {
	t.Helper()
	env, err := NewEnvelope(typ, "gun-3", time.Time{}, cmd)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := env.Encode()
	return data
}

func lastResult(t *testing.T, ob *Outbox) CommandResult {
	t.Helper()
	msgs, err := ob.Pending(context.Background(), 0)
	if err != nil || len(msgs) == 0 {
		t.Fatalf("no results queued: %v", err)
	}
	env, err := DecodeEnvelope(msgs[len(msgs)-1].Envelope)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeCommandResult {
		t.Fatalf("type = %s", env.Type)
	}
	var res CommandResult
	if err := env.DecodePayload(&res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestCommandHandler_Lifecycle(t *testing.T) {
	db := docstore.NewMemoryStore()
	e := testEngine(t, db)
	ob := NewOutbox(docstore.NewMemoryStore())
	h := NewCommandHandler(e, ob, "rolltrack.events", "core", nil)
	ctx := context.Background()
	if _, err := e.GenerateLabel(ctx, "A1", "S1"); err != nil {
		t.Fatal(err)
	}

	h.HandleMessage("rolltrack.commands", commandEnvelope(t, CmdScan, Command{QRValue: "A1-S1"}))
	if res := lastResult(t, ob); !res.OK || res.Stage != engine.Stage1 || res.Command != CmdScan {
		t.Fatalf("scan result = %+v", res)
	}

	h.HandleMessage("rolltrack.commands", commandEnvelope(t, CmdRegister, Command{QRValue: "A1-S1", Actor: "kim"}))
	if res := lastResult(t, ob); !res.OK {
		t.Fatalf("register result = %+v", res)
	}
	events, _ := e.Store().ScanEvents.GetByQR(ctx, "A1-S1")
	if len(events) != 1 || events[0].Actor != "kim" || events[0].UserAgent != "scanner/gun-3" {
		t.Fatalf("scan events = %+v", events)
	}

	h.HandleMessage("rolltrack.commands", commandEnvelope(t, CmdSlit, Command{QRValue: "A1-S1", Widths: []int{700, 700}}))
	if res := lastResult(t, ob); res.OK || res.Code != "invalid_widths" {
		t.Fatalf("over-capacity slit result = %+v", res)
	}

	h.HandleMessage("rolltrack.commands", commandEnvelope(t, CmdSlit, Command{QRValue: "A1-S1", Widths: []int{500}, JobID: "J1"}))
	if res := lastResult(t, ob); !res.OK {
		t.Fatalf("slit result = %+v", res)
	}
	children, _ := e.Store().ChildRolls.GetByMasterQR(ctx, "A1-S1")
	if len(children) != 1 {
		t.Fatalf("children = %d", len(children))
	}

	h.HandleMessage("rolltrack.commands", commandEnvelope(t, CmdConsume, Command{ChildRollID: children[0].ID, JobID: "P1"}))
	if res := lastResult(t, ob); !res.OK {
		t.Fatalf("consume result = %+v", res)
	}
	h.HandleMessage("rolltrack.commands", commandEnvelope(t, CmdConsume, Command{ChildRollID: children[0].ID}))
	if res := lastResult(t, ob); res.OK || res.Code != "already_used" {
		t.Fatalf("second consume result = %+v", res)
	}

	h.HandleMessage("rolltrack.commands", commandEnvelope(t, "reboot", Command{}))
	if res := lastResult(t, ob); res.OK || res.Code != "invalid_input" {
		t.Fatalf("unknown command result = %+v", res)
	}
}

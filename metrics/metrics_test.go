package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"rolltrack/engine"
)

func TestCollectorCountsEvents(t *testing.T) {
	c := New()
	bus := engine.NewEventBus()
	c.Attach(bus)

	bus.Emit(engine.Event{Type: engine.EventLabelCreated, Payload: engine.LabelCreatedEvent{}})
	bus.Emit(engine.Event{Type: engine.EventLabelCreated, Payload: engine.LabelCreatedEvent{}})
	bus.Emit(engine.Event{Type: engine.EventMasterRegistered, Payload: engine.MasterRegisteredEvent{}})
	bus.Emit(engine.Event{Type: engine.EventMasterSlit, Payload: engine.MasterSlitEvent{ChildRollIDs: []string{"1-0", "1-1", "1-2"}}})
	bus.Emit(engine.Event{Type: engine.EventMasterSlit, Payload: engine.MasterSlitEvent{ChildRollIDs: []string{"2-0"}, Recovered: true}})
	bus.Emit(engine.Event{Type: engine.EventChildConsumed, Payload: engine.ChildConsumedEvent{}})
	bus.Emit(engine.Event{Type: engine.EventStockDeleted, Payload: engine.StockEvent{}})
	bus.Emit(engine.Event{Type: engine.EventStockRestored, Payload: engine.StockEvent{}})
	bus.Emit(engine.Event{Type: engine.EventInconsistentState, Payload: engine.InconsistentStateEvent{Step: "mark_slit"}})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"labels", testutil.ToFloat64(c.labelsCreated), 2},
		{"registered", testutil.ToFloat64(c.mastersRegistered), 1},
		{"slits", testutil.ToFloat64(c.slits), 2},
		{"children created", testutil.ToFloat64(c.childrenCreated), 3},
		{"consumed", testutil.ToFloat64(c.childrenConsumed), 1},
		{"delete", testutil.ToFloat64(c.stockOps.WithLabelValues("delete")), 1},
		{"restore", testutil.ToFloat64(c.stockOps.WithLabelValues("restore")), 1},
		{"purge", testutil.ToFloat64(c.stockOps.WithLabelValues("purge")), 0},
		{"mark_slit", testutil.ToFloat64(c.inconsistent.WithLabelValues("mark_slit")), 1},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	c := New()
	c.labelsCreated.Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"rolltrack_labels_created_total 1", "rolltrack_slits_total 0", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

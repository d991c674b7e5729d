package www

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"rolltrack/docstore"
	"rolltrack/engine"
	"rolltrack/logger"
	"rolltrack/store"
)

type fakeMessaging struct{ connected bool }

func (f fakeMessaging) Backend() string   { return "mqtt" }
func (f fakeMessaging) IsConnected() bool { return f.connected }

type testServer struct {
	*httptest.Server
	eng    *engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	eng := engine.New(engine.Config{
		Store:        store.New(docstore.NewMemoryStore()),
		LabelBaseURL: "https://labels.example.com",
	})
	handler, stop := NewRouter(eng, Options{
		SessionSecret: "test-secret",
		PresetWidths:  []int{225, 241, 325},
		Messaging:     fakeMessaging{connected: true},
		Metrics:       http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "ok") }),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		stop()
	})
	jar, _ := cookiejar.New(nil)
	return &testServer{Server: srv, eng: eng, client: &http.Client{Jar: jar}}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scan-tablet/1")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Step  string `json:"step"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var body struct {
		Status     string `json:"status"`
		Storage    string `json:"storage"`
		SSEClients int    `json:"sseClients"`
		Messaging  struct {
			Backend   string `json:"backend"`
			Connected bool   `json:"connected"`
		} `json:"messaging"`
	}
	if code := s.do(t, http.MethodGet, "/api/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Status != "ok" || body.Storage != "memory" || body.SSEClients != 0 || body.Messaging.Backend != "mqtt" || !body.Messaging.Connected {
		t.Fatalf("health = %+v", body)
	}

	resp, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestOperatorSession(t *testing.T) {
	s := newTestServer(t)
	var op map[string]string
	if code := s.do(t, http.MethodPost, "/api/operator", map[string]string{"operator": "  dana "}, &op); code != http.StatusOK {
		t.Fatalf("set operator = %d", code)
	}
	s.do(t, http.MethodGet, "/api/operator", nil, &op)
	if op["operator"] != "dana" {
		t.Fatalf("operator = %q", op["operator"])
	}
	if code := s.do(t, http.MethodPost, "/api/operator", map[string]string{"operator": " "}, nil); code != http.StatusBadRequest {
		t.Fatalf("blank operator = %d", code)
	}
	s.do(t, http.MethodDelete, "/api/operator", nil, &op)
	s.do(t, http.MethodGet, "/api/operator", nil, &op)
	if op["operator"] != "" {
		t.Fatalf("operator after clear = %q", op["operator"])
	}
}

func TestRollLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/operator", map[string]string{"operator": "dana"}, nil)

	var gen engine.GenerateResult
	code := s.do(t, http.MethodPost, "/api/labels", map[string]any{
		"labels": []engine.LabelRequest{{LotNumber: "A1", StockNumber: "S1"}, {LotNumber: "A2", StockNumber: "S1"}},
	}, &gen)
	if code != http.StatusOK || len(gen.Created) != 2 || gen.BatchID == "" {
		t.Fatalf("generate = %d %+v", code, gen)
	}

	var labels []store.QRCode
	s.do(t, http.MethodGet, "/api/labels?batch="+gen.BatchID, nil, &labels)
	if len(labels) != 2 {
		t.Fatalf("labels in batch = %d", len(labels))
	}

	var stage struct {
		Stage         engine.Stage `json:"stage"`
		NextOperation string       `json:"nextOperation"`
	}
	s.do(t, http.MethodGet, "/api/stage?qr=A1-S1", nil, &stage)
	if stage.Stage != engine.Stage1 || stage.NextOperation != "register" {
		t.Fatalf("stage = %+v", stage)
	}

	var m store.MasterRoll
	if code := s.do(t, http.MethodPost, "/api/master-rolls", map[string]string{"qrValue": "A1-S1"}, &m); code != http.StatusOK {
		t.Fatalf("register = %d", code)
	}
	if m.Status != store.MasterRegistered {
		t.Fatalf("master = %+v", m)
	}
	var apiErr apiError
	if code := s.do(t, http.MethodPost, "/api/master-rolls", map[string]string{"qrValue": "A1-S1"}, &apiErr); code != http.StatusConflict || apiErr.Code != "already_exists" {
		t.Fatalf("second register = %d %+v", code, apiErr)
	}
	if code := s.do(t, http.MethodPost, "/api/master-rolls", map[string]string{"qrValue": "ZZ-S9"}, &apiErr); code != http.StatusNotFound || apiErr.Code != "qr_code_not_found" {
		t.Fatalf("unknown register = %d %+v", code, apiErr)
	}

	if code := s.do(t, http.MethodPost, "/api/master-rolls/slit", map[string]any{"qrValue": "A1-S1", "widths": []int{700, 700}}, &apiErr); code != http.StatusBadRequest || apiErr.Code != "invalid_widths" {
		t.Fatalf("over-capacity slit = %d %+v", code, apiErr)
	}
	var slit engine.SlitResult
	if code := s.do(t, http.MethodPost, "/api/master-rolls/slit", map[string]any{"qrValue": "A1-S1", "widths": []int{225, 241, 325}, "jobId": "J1"}, &slit); code != http.StatusOK {
		t.Fatalf("slit = %d", code)
	}
	if len(slit.ChildRolls) != 3 || slit.JobID != "J1" {
		t.Fatalf("slit result = %+v", slit)
	}

	var consumed store.ChildRoll
	if code := s.do(t, http.MethodPost, "/api/child-rolls/consume", map[string]string{"childRollId": slit.ChildRolls[0].ID, "jobId": "P1"}, &consumed); code != http.StatusOK {
		t.Fatalf("consume = %d", code)
	}
	if consumed.Status != store.ChildUsed || consumed.UsedJobID != "P1" {
		t.Fatalf("consumed = %+v", consumed)
	}
	if code := s.do(t, http.MethodPost, "/api/child-rolls/consume", map[string]string{"childRollId": slit.ChildRolls[0].ID}, &apiErr); code != http.StatusConflict || apiErr.Code != "already_used" {
		t.Fatalf("second consume = %d %+v", code, apiErr)
	}

	var detail engine.MasterRollDetail
	s.do(t, http.MethodGet, "/api/master-rolls?qr=A1-S1", nil, &detail)
	if detail.Stage != engine.Stage3 || len(detail.ChildRolls) != 3 || detail.Master == nil {
		t.Fatalf("detail = %+v", detail)
	}

	var events []store.ScanEvent
	s.do(t, http.MethodGet, "/api/scan-events?qr=A1-S1", nil, &events)
	if len(events) != 3 {
		t.Fatalf("scan events = %d", len(events))
	}
	for _, ev := range events {
		if ev.Actor != "dana" || ev.UserAgent != "scan-tablet/1" {
			t.Fatalf("scan event = %+v", ev)
		}
	}
}

func TestInventoryViews(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()
	for _, lot := range []string{"A1", "A2", "A3"} {
		if _, err := s.eng.GenerateLabel(ctx, lot, "S1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.eng.RegisterMasterRoll(ctx, "A1-S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.eng.RegisterMasterRoll(ctx, "A2-S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.eng.SlitMasterRoll(ctx, "A2-S1", []int{300, 300}, "J9"); err != nil {
		t.Fatal(err)
	}

	var stocks []struct {
		StockNumber string `json:"stockNumber"`
		Registered  int    `json:"registered"`
		Slit        int    `json:"slit"`
		Pending     int    `json:"pending"`
		Total       int    `json:"total"`
	}
	s.do(t, http.MethodGet, "/api/inventory/stocks", nil, &stocks)
	if len(stocks) != 1 || stocks[0].Total != 3 || stocks[0].Pending != 1 || stocks[0].Slit != 1 {
		t.Fatalf("stocks = %+v", stocks)
	}

	var lots []struct {
		LotNumber string `json:"lotNumber"`
		Status    string `json:"status"`
	}
	s.do(t, http.MethodGet, "/api/inventory/lots?stock=S1", nil, &lots)
	if len(lots) != 3 || lots[1].LotNumber != "A2" || lots[1].Status != "slit" {
		t.Fatalf("lots = %+v", lots)
	}
	if code := s.do(t, http.MethodGet, "/api/inventory/lots", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("lots without stock = %d", code)
	}

	var jobs []struct {
		JobID string `json:"jobId"`
		Rolls []any  `json:"rolls"`
	}
	s.do(t, http.MethodGet, "/api/inventory/jobs?qr=A2-S1", nil, &jobs)
	if len(jobs) != 1 || jobs[0].JobID != "J9" || len(jobs[0].Rolls) != 2 {
		t.Fatalf("jobs = %+v", jobs)
	}

	var widths []struct {
		Width int `json:"width"`
		Total int `json:"total"`
	}
	s.do(t, http.MethodGet, "/api/inventory/widths?qr=A2-S1", nil, &widths)
	if len(widths) != 1 || widths[0].Width != 300 || widths[0].Total != 2 {
		t.Fatalf("widths = %+v", widths)
	}

	var presets struct {
		Presets       []int `json:"presets"`
		MaxTotalWidth int   `json:"maxTotalWidth"`
	}
	s.do(t, http.MethodGet, "/api/widths/presets", nil, &presets)
	if len(presets.Presets) != 3 || presets.MaxTotalWidth != engine.DefaultMaxTotalWidth {
		t.Fatalf("presets = %+v", presets)
	}

	var snap engine.Snapshot
	s.do(t, http.MethodGet, "/api/snapshot", nil, &snap)
	if len(snap.QRCodes) != 3 || len(snap.MasterRolls) != 2 || len(snap.ChildRolls) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	resp, err := http.Get(s.URL + "/api/export.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("content-disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Child Rolls"); idx < 0 {
		t.Fatalf("sheets = %v", f.GetSheetList())
	}
}

func TestStockDeleteRestorePurge(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()
	if _, err := s.eng.GenerateLabel(ctx, "A1", "S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.eng.RegisterMasterRoll(ctx, "A1-S1"); err != nil {
		t.Fatal(err)
	}

	var rec store.DeletedStockRecord
	if code := s.do(t, http.MethodPost, "/api/stocks/delete", map[string]string{"stockNumber": "S1"}, &rec); code != http.StatusOK {
		t.Fatalf("delete = %d", code)
	}
	if len(rec.OriginalData.MasterRolls) != 1 || len(rec.OriginalData.QRCodes) != 1 {
		t.Fatalf("record = %+v", rec)
	}
	var deleted []store.DeletedStockRecord
	s.do(t, http.MethodGet, "/api/stocks/deleted", nil, &deleted)
	if len(deleted) != 1 {
		t.Fatalf("deleted = %d", len(deleted))
	}
	if code := s.do(t, http.MethodPost, "/api/stocks/delete", map[string]string{"stockNumber": "S1"}, nil); code != http.StatusNotFound {
		t.Fatalf("delete empty stock = %d", code)
	}

	if code := s.do(t, http.MethodPost, "/api/stocks/restore", map[string]string{"stockNumber": "S1"}, nil); code != http.StatusOK {
		t.Fatalf("restore = %d", code)
	}
	var stage struct {
		Stage engine.Stage `json:"stage"`
	}
	s.do(t, http.MethodGet, "/api/stage?qr=A1-S1", nil, &stage)
	if stage.Stage != engine.Stage2 {
		t.Fatalf("stage after restore = %s", stage.Stage)
	}

	s.do(t, http.MethodPost, "/api/stocks/delete", map[string]string{"stockNumber": "S1"}, nil)
	if code := s.do(t, http.MethodPost, "/api/stocks/purge", map[string]string{"stockNumber": "S1"}, nil); code != http.StatusOK {
		t.Fatalf("purge = %d", code)
	}
	s.do(t, http.MethodGet, "/api/stocks/deleted", nil, &deleted)
	if len(deleted) != 0 {
		t.Fatalf("deleted after purge = %d", len(deleted))
	}
	if code := s.do(t, http.MethodPost, "/api/stocks/restore", map[string]string{"stockNumber": "S1"}, nil); code != http.StatusNotFound {
		t.Fatalf("restore after purge = %d", code)
	}
}

func TestClearData(t *testing.T) {
	s := newTestServer(t)
	ctx := t.Context()
	if _, err := s.eng.GenerateLabel(ctx, "A1", "S1"); err != nil {
		t.Fatal(err)
	}
	var removed map[string]int
	if code := s.do(t, http.MethodPost, "/api/data/clear", map[string]any{"qrValues": []string{"A1-S1"}}, &removed); code != http.StatusOK {
		t.Fatalf("clear = %d", code)
	}
	if removed["qrCodes"] != 1 {
		t.Fatalf("removed = %+v", removed)
	}
	if code := s.do(t, http.MethodPost, "/api/data/clear", map[string]any{"qrValues": []string{}}, nil); code != http.StatusBadRequest {
		t.Fatalf("clear nothing = %d", code)
	}
}

func TestImportLabelsCSV(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "labels.csv")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, "Stock Number,Lot Number,URL\nS1,A1,\nS1,,\nS1,A2,https://x.example/a2\n")
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/labels/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var tally struct {
		BatchID   string   `json:"batchId"`
		Success   int      `json:"success"`
		RowErrors []string `json:"rowErrors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tally); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || tally.Success != 2 || len(tally.RowErrors) != 1 {
		t.Fatalf("import = %d %+v", resp.StatusCode, tally)
	}
	q, err := s.eng.Store().QRCodes.GetByValue(t.Context(), "A2-S1")
	if err != nil || q.QRURL != "https://x.example/a2" || q.BatchID != tally.BatchID {
		t.Fatalf("imported label = %+v, %v", q, err)
	}

	req, _ = http.NewRequest(http.MethodPost, s.URL+"/api/labels/import", strings.NewReader("name,qty\nx,1\n"))
	req.Header.Set("Content-Type", "text/csv")
	resp2, err := s.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad header import = %d", resp2.StatusCode)
	}
}

func TestEventHubBroadcastsEngineEvents(t *testing.T) {
	eng := engine.New(engine.Config{Store: store.New(docstore.NewMemoryStore())})
	hub := NewEventHub(nil)
	hub.Start()
	defer hub.Stop()
	sub := hub.SetupEngineListeners(eng)
	defer eng.Events.Unsubscribe(sub)

	ch := hub.AddClient()
	defer hub.RemoveClient(ch)

	if _, err := eng.GenerateLabel(t.Context(), "A1", "S1"); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		if evt.Event != "label-update" || !strings.Contains(evt.Data, `"type":"label_created"`) || !strings.Contains(evt.Data, `"qrValue":"A1-S1"`) {
			t.Fatalf("sse event = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sse event")
	}
}

func TestEventHubKeepalive(t *testing.T) {
	hub := NewEventHub(nil)
	hub.keepalive = 10 * time.Millisecond
	hub.Start()
	defer hub.Stop()

	ch := hub.AddClient()
	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	select {
	case evt := <-ch:
		if evt.Event != "system-status" {
			t.Fatalf("keepalive event = %q", evt.Event)
		}
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(evt.Data), &msg); err != nil {
			t.Fatalf("keepalive data %q: %v", evt.Data, err)
		}
		if msg.Type != "keepalive" || string(msg.Payload) != "null" {
			t.Fatalf("keepalive = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive")
	}

	hub.RemoveClient(ch)
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("clients after remove = %d, want 0", n)
	}
}

func TestWriteErrInconsistentState(t *testing.T) {
	h := &Handlers{log: logger.Nop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/master-rolls/slit", nil)
	h.writeErr(rec, req, &store.InconsistentStateError{Op: "slit", QRValue: "A1-S1", Step: "mark_slit", Err: store.ErrBatchWriteFailed})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body apiError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "inconsistent_state" || body.Step != "mark_slit" {
		t.Fatalf("body = %+v", body)
	}
}

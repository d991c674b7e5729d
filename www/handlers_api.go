package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"rolltrack/engine"
	"rolltrack/store"
)

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeErr maps an engine error onto a status code and a stable error code.
func (h *Handlers) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := engine.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "not_found", "qr_code_not_found":
		status = http.StatusNotFound
	case "already_exists", "already_slit", "already_used":
		status = http.StatusConflict
	case "invalid_input", "invalid_widths":
		status = http.StatusBadRequest
	}

	body := map[string]string{"error": err.Error(), "code": code}
	var ise *store.InconsistentStateError
	if errors.As(err, &ise) {
		body["step"] = ise.Step
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decode reads a JSON body into v, answering 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

// query returns a trimmed query parameter, answering 400 when it is required
// and missing.
func (h *Handlers) query(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		h.jsonError(w, name+" is required", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"storage":    h.engine.StorageType(),
		"sseClients": h.eventHub.ClientCount(),
	}
	if m := h.opts.Messaging; m != nil {
		resp["messaging"] = map[string]any{
			"backend":   m.Backend(),
			"connected": m.IsConnected(),
		}
	}
	h.jsonOK(w, resp)
}

func (h *Handlers) apiResolveStage(w http.ResponseWriter, r *http.Request) {
	qr, ok := h.query(w, r, "qr")
	if !ok {
		return
	}
	stage, err := h.engine.ResolveStage(r.Context(), qr)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, map[string]any{
		"qrValue":       qr,
		"stage":         stage,
		"nextOperation": stage.NextOperation(),
	})
}

func (h *Handlers) apiPresetWidths(w http.ResponseWriter, r *http.Request) {
	widths := h.opts.PresetWidths
	if widths == nil {
		widths = []int{}
	}
	h.jsonOK(w, map[string]any{
		"presets":       widths,
		"maxTotalWidth": h.engine.MaxTotalWidth(),
	})
}

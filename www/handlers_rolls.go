package www

import (
	"errors"
	"net/http"

	"rolltrack/engine"
	"rolltrack/store"
)

type qrRequest struct {
	QRValue string `json:"qrValue"`
}

func (h *Handlers) apiMasterRollDetail(w http.ResponseWriter, r *http.Request) {
	qr, ok := h.query(w, r, "qr")
	if !ok {
		return
	}
	d, err := h.engine.MasterRollDetail(r.Context(), qr)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, d)
}

func (h *Handlers) apiRegisterMasterRoll(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.engine.RegisterMasterRoll(r.Context(), req.QRValue)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, m)
}

func (h *Handlers) apiSlitMasterRoll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRValue string `json:"qrValue"`
		Widths  []int  `json:"widths"`
		JobID   string `json:"jobId"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.SlitMasterRoll(r.Context(), req.QRValue, req.Widths, req.JobID)
	h.slitResponse(w, r, res, err)
}

func (h *Handlers) apiCompleteSlit(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.CompleteSlit(r.Context(), req.QRValue)
	h.slitResponse(w, r, res, err)
}

// slitResponse reports a partial slit with the rolls that were written, so
// the operator can finish it with complete-slit.
func (h *Handlers) slitResponse(w http.ResponseWriter, r *http.Request, res *engine.SlitResult, err error) {
	var ise *store.InconsistentStateError
	if err != nil && errors.As(err, &ise) && res != nil {
		h.log.Warn("slit left partial state", "qr", ise.QRValue, "step", ise.Step)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		h.jsonOK(w, map[string]any{
			"error":  err.Error(),
			"code":   engine.ErrorCode(err),
			"step":   ise.Step,
			"result": res,
		})
		return
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, res)
}

func (h *Handlers) apiConsumeChildRoll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChildRollID string `json:"childRollId"`
		JobID       string `json:"jobId"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.engine.ConsumeChildRoll(r.Context(), req.ChildRollID, req.JobID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, c)
}

func (h *Handlers) apiScanEvents(w http.ResponseWriter, r *http.Request) {
	qr, ok := h.query(w, r, "qr")
	if !ok {
		return
	}
	events, err := h.engine.Store().ScanEvents.GetByQR(r.Context(), qr)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if events == nil {
		events = []store.ScanEvent{}
	}
	h.jsonOK(w, events)
}

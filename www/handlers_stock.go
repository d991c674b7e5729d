package www

import (
	"net/http"

	"rolltrack/store"
)

type stockRequest struct {
	StockNumber string `json:"stockNumber"`
}

func (h *Handlers) apiDeletedStocks(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Store().DeletedStock.GetAll(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.DeletedStockRecord{}
	}
	h.jsonOK(w, recs)
}

func (h *Handlers) apiSoftDeleteStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.engine.SoftDeleteStock(r.Context(), req.StockNumber)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, rec)
}

func (h *Handlers) apiRestoreStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.engine.RestoreStock(r.Context(), req.StockNumber)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, rec)
}

func (h *Handlers) apiPurgeStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.PermanentlyDeleteStock(r.Context(), req.StockNumber); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "ok", "stockNumber": req.StockNumber})
}

func (h *Handlers) apiClearData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRValues []string `json:"qrValues"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	removed, err := h.engine.ClearData(r.Context(), req.QRValues)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, map[string]int{
		"qrCodes":     len(removed.QRCodes),
		"masterRolls": len(removed.MasterRolls),
		"childRolls":  len(removed.ChildRolls),
	})
}

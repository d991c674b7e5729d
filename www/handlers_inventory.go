package www

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rolltrack/report"
	"rolltrack/store"
)

func (h *Handlers) apiStockSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qrs, err := h.engine.Store().QRCodes.GetAll(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	masters, err := h.engine.Store().MasterRolls.GetAll(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, report.GroupByStock(qrs, masters))
}

func (h *Handlers) apiLotRows(w http.ResponseWriter, r *http.Request) {
	stock, ok := h.query(w, r, "stock")
	if !ok {
		return
	}
	ctx := r.Context()
	st := h.engine.Store()
	qrs, err := st.QRCodes.GetByStock(ctx, stock)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	masters, err := st.MasterRolls.GetByStock(ctx, stock)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var children []store.ChildRoll
	for _, m := range masters {
		cs, err := st.ChildRolls.GetByMasterQR(ctx, m.QRValue)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		children = append(children, cs...)
	}
	h.jsonOK(w, report.GroupByLot(stock, qrs, masters, children))
}

// masterChildren loads the child rolls of the master named by ?qr=.
func (h *Handlers) masterChildren(w http.ResponseWriter, r *http.Request) (string, []store.ChildRoll, bool) {
	qr, ok := h.query(w, r, "qr")
	if !ok {
		return "", nil, false
	}
	children, err := h.engine.Store().ChildRolls.GetByMasterQR(r.Context(), qr)
	if err != nil {
		h.writeErr(w, r, err)
		return "", nil, false
	}
	return qr, children, true
}

func (h *Handlers) apiJobs(w http.ResponseWriter, r *http.Request) {
	qr, children, ok := h.masterChildren(w, r)
	if !ok {
		return
	}
	h.jsonOK(w, report.GroupByJob(qr, children))
}

func (h *Handlers) apiWidths(w http.ResponseWriter, r *http.Request) {
	qr, children, ok := h.masterChildren(w, r)
	if !ok {
		return
	}
	h.jsonOK(w, report.GroupByWidth(qr, children))
}

func (h *Handlers) apiSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, snap)
}

func (h *Handlers) apiExportXLSX(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, snap); err != nil {
		h.log.Error("xlsx export", "err", err)
		h.jsonError(w, "export failed", http.StatusInternalServerError)
		return
	}
	name := fmt.Sprintf("rolltrack-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

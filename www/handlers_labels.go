package www

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"rolltrack/engine"
	"rolltrack/store"
)

// maxImportSize caps label import uploads.
const maxImportSize = 10 << 20

func (h *Handlers) apiListLabels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batch := strings.TrimSpace(r.URL.Query().Get("batch"))
	stock := strings.TrimSpace(r.URL.Query().Get("stock"))

	var (
		labels []store.QRCode
		err    error
	)
	switch {
	case batch != "":
		labels, err = h.engine.Store().QRCodes.GetByBatch(ctx, batch)
	case stock != "":
		labels, err = h.engine.Store().QRCodes.GetByStock(ctx, stock)
	default:
		labels, err = h.engine.Store().QRCodes.GetAll(ctx)
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if labels == nil {
		labels = []store.QRCode{}
	}
	h.jsonOK(w, labels)
}

func (h *Handlers) apiGenerateLabels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Labels []engine.LabelRequest `json:"labels"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.GenerateLabels(r.Context(), req.Labels)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.jsonOK(w, res)
}

// apiImportLabels accepts a CSV or XLSX file, either as the "file" field of
// a multipart form or as the raw request body.
func (h *Handlers) apiImportLabels(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	var (
		body     io.Reader = r.Body
		name     string
		mimeType = r.Header.Get("Content-Type")
	)
	if strings.HasPrefix(mimeType, "multipart/form-data") {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			h.jsonError(w, "file is required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, name, mimeType = file, hdr.Filename, hdr.Header.Get("Content-Type")
	}

	var (
		parsed *engine.ParsedLabels
		err    error
	)
	if isSpreadsheet(name, mimeType) {
		parsed, err = engine.ParseLabelSheet(body)
	} else {
		parsed, err = engine.ParseLabelCSV(body)
	}
	if err != nil {
		resp := map[string]any{"error": err.Error(), "code": "invalid_input"}
		if parsed != nil {
			resp["rowErrors"] = parsed.RowErrors
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if !errors.Is(err, engine.ErrImportEmpty) && !errors.Is(err, engine.ErrImportHeader) {
			h.log.Warn("label import unreadable", "file", name, "err", err)
		}
		h.jsonOK(w, resp)
		return
	}

	tally := h.engine.ImportLabels(r.Context(), parsed.Records)
	h.jsonOK(w, map[string]any{
		"batchId":   tally.BatchID,
		"success":   tally.Success,
		"skipped":   tally.Skipped,
		"errors":    tally.Errors,
		"rowErrors": parsed.RowErrors,
	})
}

func isSpreadsheet(name, mimeType string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return true
	case ".csv":
		return false
	}
	return strings.Contains(mimeType, "spreadsheetml")
}

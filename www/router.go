package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"rolltrack/engine"
	"rolltrack/logger"
)

// MessagingStatus reports the broker connection for /api/health.
type MessagingStatus interface {
	Backend() string
	IsConnected() bool
}

type Options struct {
	SessionSecret string
	PresetWidths  []int
	Metrics       http.Handler    // nil leaves /metrics unmounted
	Messaging     MessagingStatus // nil when messaging is disabled
	Logger        *logger.Logger
}

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
	opts     Options
	log      *logger.Logger
}

func NewRouter(eng *engine.Engine, opts Options) (http.Handler, func()) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "www")

	hub := NewEventHub(log)
	hub.Start()
	sub := hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(opts.SessionSecret),
		eventHub: hub,
		opts:     opts,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/events", hub.SSEHandler)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.withOperator)

		r.Get("/health", h.apiHealthCheck)
		r.Get("/operator", h.apiGetOperator)
		r.Post("/operator", h.apiSetOperator)
		r.Delete("/operator", h.apiClearOperator)

		r.Get("/stage", h.apiResolveStage)
		r.Get("/labels", h.apiListLabels)
		r.Post("/labels", h.apiGenerateLabels)
		r.Post("/labels/import", h.apiImportLabels)

		r.Get("/master-rolls", h.apiMasterRollDetail)
		r.Post("/master-rolls", h.apiRegisterMasterRoll)
		r.Post("/master-rolls/slit", h.apiSlitMasterRoll)
		r.Post("/master-rolls/complete-slit", h.apiCompleteSlit)
		r.Post("/child-rolls/consume", h.apiConsumeChildRoll)
		r.Get("/widths/presets", h.apiPresetWidths)

		r.Get("/inventory/stocks", h.apiStockSummary)
		r.Get("/inventory/lots", h.apiLotRows)
		r.Get("/inventory/jobs", h.apiJobs)
		r.Get("/inventory/widths", h.apiWidths)
		r.Get("/snapshot", h.apiSnapshot)
		r.Get("/export.xlsx", h.apiExportXLSX)
		r.Get("/scan-events", h.apiScanEvents)

		r.Get("/stocks/deleted", h.apiDeletedStocks)
		r.Post("/stocks/delete", h.apiSoftDeleteStock)
		r.Post("/stocks/restore", h.apiRestoreStock)
		r.Post("/stocks/purge", h.apiPurgeStock)
		r.Post("/data/clear", h.apiClearData)
	})

	stopFn := func() {
		eng.Events.Unsubscribe(sub)
		hub.Stop()
	}

	return r, stopFn
}

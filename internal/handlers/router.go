package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/autoanosis/ai-relay-go/internal/i18n"
	"github.com/autoanosis/ai-relay-go/internal/middleware"
	"github.com/autoanosis/ai-relay-go/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RouterOptions collects what NewRouter wires together. Metrics may be nil.
type RouterOptions struct {
	Chat           *ChatHandler
	Health         *HealthHandler
	Localizer      *i18n.Localizer
	Metrics        *middleware.Metrics
	AllowedOrigins []string
	Logger         *logrus.Logger
}

// NewRouter builds the public HTTP handler. CORS sits outermost so preflight
// requests are answered before routing.
func NewRouter(opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}

	r.Handle("/health", opts.Health).Methods(http.MethodGet)
	r.Handle("/chat", opts.Chat).Methods(http.MethodPost)

	var notFound http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, opts.Localizer, http.StatusNotFound, i18n.MsgNotFound)
	})
	var notAllowed http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, opts.Localizer, http.StatusMethodNotAllowed, i18n.MsgMethodNotAllowed)
	})
	// mux skips Use middleware for these, so they are instrumented directly
	if opts.Metrics != nil {
		notFound = opts.Metrics.Instrument(notFound)
		notAllowed = opts.Metrics.Instrument(notAllowed)
	}
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notAllowed

	var h http.Handler = r
	h = middleware.Recovery(opts.Logger)(h)
	h = middleware.WithRequestID(h)
	h = middleware.CORS(opts.AllowedOrigins)(h)
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, localizer *i18n.Localizer, status int, code string) {
	writeJSON(w, status, models.ErrorResponse{
		Error: localizer.Get(r.Header.Get("Accept-Language"), code),
		Code:  code,
	})
}

// Package options serves the preferences over HTTP: a small JSON API for
// reading and editing the record, a link rewrite endpoint, and a websocket
// feed of updates for settings pages.
package options

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yacchi/bettershare"
	"github.com/yacchi/bettershare/rewrite"
)

// NewHandler returns the settings API for store.
//
//	GET  /api/preferences
//	PUT  /api/preferences
//	PUT  /api/preferences/{site}
//	POST /api/preferences/reset
//	GET  /api/preferences/events  (websocket)
//	GET  /api/share?url=...
//
// store must not be nil. A nil logger discards logs.
func NewHandler(store *bettershare.Store, logger *zap.Logger) (http.Handler, error) {
	if store == nil {
		return nil, errors.New("options: nil Store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(withStore(store))

	h := &handler{logger: logger}

	r.Get("/api/preferences", h.getPreferences)
	r.Put("/api/preferences", h.putPreferences)
	r.Put("/api/preferences/{site}", h.putSite)
	r.Post("/api/preferences/reset", h.reset)
	r.Get("/api/preferences/events", h.handleEvents)
	r.Get("/api/share", h.share)

	return r, nil
}

type handler struct {
	logger *zap.Logger
}

// withStore makes store available to handlers through the request context.
func withStore(store *bettershare.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(bettershare.NewContext(r.Context(), store)))
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (h *handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	store := bettershare.FromContext(r.Context())
	p, err := store.LoadPreferences(r.Context())
	if err != nil {
		h.serverError(w, "failed to load preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) putPreferences(w http.ResponseWriter, r *http.Request) {
	var p bettershare.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := p.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	store := bettershare.FromContext(r.Context())
	if err := store.SavePreferences(r.Context(), p); err != nil {
		h.serverError(w, "failed to save preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type siteValue struct {
	Value string `json:"value"`
}

func (h *handler) putSite(w http.ResponseWriter, r *http.Request) {
	site := bettershare.Site(chi.URLParam(r, "site"))
	if !slices.Contains(bettershare.Sites(), site) {
		http.Error(w, "unknown site", http.StatusNotFound)
		return
	}

	var body siteValue
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	store := bettershare.FromContext(r.Context())
	current, err := store.LoadPreferences(r.Context())
	if err != nil {
		h.serverError(w, "failed to load preferences", err)
		return
	}
	updated, err := current.With(site, body.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := store.SavePreferences(r.Context(), updated); err != nil {
		h.serverError(w, "failed to save preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	store := bettershare.FromContext(r.Context())
	p := bettershare.DefaultPreferences()
	if err := store.SavePreferences(r.Context(), p); err != nil {
		h.serverError(w, "failed to save preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type shareResponse struct {
	URL string `json:"url"`
}

func (h *handler) share(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("url")
	if link == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	store := bettershare.FromContext(r.Context())
	p, err := store.LoadPreferences(r.Context())
	if err != nil {
		h.serverError(w, "failed to load preferences", err)
		return
	}

	out, err := rewrite.ShareableURL(link, p)
	switch {
	case errors.Is(err, rewrite.ErrUnsupportedSite):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{URL: out})
}

func (h *handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

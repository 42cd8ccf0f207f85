package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/history"
	"github.com/cloudbox/stampwatch/poller"
	"github.com/cloudbox/stampwatch/stats"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type stateSource interface {
	State() *poller.State
}

type historySource interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Count(ctx context.Context) (int, error)
}

func createCredentials(cfg config) map[string]string {
	creds := make(map[string]string)
	creds[cfg.Auth.Username] = cfg.Auth.Password
	return creds
}

func getRouter(cfg config, st *stats.Stats, state stateSource, hist historySource, cycle func() error) chi.Router {
	mux := chi.NewRouter()

	// Middleware
	mux.Use(middleware.Recoverer)

	// Logging-related middleware
	mux.Use(hlog.NewHandler(log.Logger))
	mux.Use(hlog.RequestIDHandler("id", "request-id"))
	mux.Use(hlog.URLHandler("url"))
	mux.Use(hlog.MethodHandler("method"))
	mux.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Int("status", status).
			Dur("duration", duration).
			Msg("Request Processed")
	}))

	// Health check
	mux.Get("/health", healthHandler)

	mux.Get("/stats", statsHandler(st, state))
	mux.Get("/notifications", notificationsHandler(hist))

	// Manual poll cycle
	mux.Group(func(sub chi.Router) {
		// Use Basic Auth middleware if username and password are set.
		if cfg.Auth.Username != "" && cfg.Auth.Password != "" {
			sub.Use(middleware.BasicAuth("stampwatch", createCredentials(cfg)))
		}

		sub.Post("/cycle", cycleHandler(cycle))
	})

	return mux
}

func writeJSON(rw http.ResponseWriter, r *http.Request, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Response Write Failed")
	}
}

func healthHandler(rw http.ResponseWriter, r *http.Request) {
	if ready.Load() {
		writeJSON(rw, r, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	writeJSON(rw, r, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
}

type statsResponse struct {
	Stats  stats.Snapshot            `json:"stats"`
	Global stampwatch.GlobalSnapshot `json:"global"`
}

func statsHandler(st *stats.Stats, state stateSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Stats: st.Snapshot()}
		if s := state.State(); s != nil {
			resp.Global = s.Global()
		}

		writeJSON(rw, r, http.StatusOK, resp)
	}
}

type notificationsResponse struct {
	Total         int             `json:"total"`
	Notifications []history.Entry `json:"notifications"`
}

func notificationsHandler(hist historySource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(rw, r, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		rlog := hlog.FromRequest(r)

		total, err := hist.Count(r.Context())
		if err != nil {
			rlog.Error().Err(err).Msg("History Count Failed")
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}

		entries, err := hist.Recent(r.Context(), limit)
		if err != nil {
			rlog.Error().Err(err).Msg("History Read Failed")
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(rw, r, http.StatusOK, notificationsResponse{
			Total:         total,
			Notifications: entries,
		})
	}
}

// cycleHandler runs a poll cycle on request. The response is sent once the
// global snapshot is committed; branches keep running in the background.
func cycleHandler(cycle func() error) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rlog := hlog.FromRequest(r)

		err := cycle()
		switch {
		case err == nil:
			rlog.Info().Msg("Manual Cycle Dispatched")
			writeJSON(rw, r, http.StatusAccepted, map[string]string{"status": "dispatched"})

		case errors.Is(err, poller.ErrCycleFaulted):
			rlog.Warn().Err(err).Msg("Manual Cycle Faulted")
			writeJSON(rw, r, http.StatusBadGateway, map[string]string{"status": "faulted"})

		default:
			rlog.Warn().Err(err).Msg("Manual Cycle Rejected")
			writeJSON(rw, r, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kalambet/ticketboard/internal/storage"
	"github.com/kalambet/ticketboard/internal/ticket"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Store *storage.Store
	// NewID assigns ids to created tickets. Defaults to random UUIDs.
	NewID  func() string
	Logger *slog.Logger
}

// NewAppHandler returns the ticket store's REST API.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth)
	r.Get("/tickets", handleListTickets(deps))
	r.Post("/tickets", handleCreateTicket(deps))
	r.Get("/tickets/{id}", handleGetTicket(deps))
	r.Put("/tickets/{id}", handleUpdateTicket(deps))
	r.Delete("/tickets/{id}", handleDeleteTicket(deps))
	r.Get("/tickets/{id}/history", handleTicketHistory(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListTickets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tickets, err := deps.Store.ListTickets()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tickets: %v", err)
			return
		}

		if status := r.URL.Query().Get("status"); status != "" {
			st, err := ticket.ParseStatus(status)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			filtered := tickets[:0]
			for _, t := range tickets {
				if t.Status == st {
					filtered = append(filtered, t)
				}
			}
			tickets = filtered
		}

		if tickets == nil {
			tickets = []ticket.Ticket{}
		}
		writeJSON(w, http.StatusOK, tickets)
	}
}

func handleCreateTicket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := decodeFields(w, r)
		if !ok {
			return
		}

		t, err := deps.Store.CreateTicket(deps.NewID(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save ticket: %v", err)
			return
		}

		deps.Logger.Info("ticket created", "ticket_id", t.ID, "status", t.Status)
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleGetTicket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		t, err := deps.Store.GetTicket(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get ticket: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

// handleUpdateTicket replaces a ticket. The path id and the stored creation
// time win over whatever the body carries.
func handleUpdateTicket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		f, ok := decodeFields(w, r)
		if !ok {
			return
		}

		t, err := deps.Store.UpdateTicket(id, f)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update ticket: %v", err)
			return
		}

		deps.Logger.Info("ticket updated", "ticket_id", id, "status", t.Status)
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteTicket(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteTicket(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete ticket: %v", err)
			return
		}

		deps.Logger.Info("ticket deleted", "ticket_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleTicketHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit := parseIntParam(r, "limit", 50, 500)

		events, err := deps.Store.TicketHistory(id, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history: %v", err)
			return
		}
		if len(events) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no history for ticket")
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// decodeFields reads a ticket body, trims it, fills form defaults and
// validates it. Any id or createdAt in the body is ignored.
func decodeFields(w http.ResponseWriter, r *http.Request) (ticket.Fields, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var f ticket.Fields
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return ticket.Fields{}, false
	}
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return ticket.Fields{}, false
	}
	return f, true
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

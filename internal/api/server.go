package api

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/mux"

	"github.com/yourusername/linkedin-messenger/internal/callback"
	"github.com/yourusername/linkedin-messenger/internal/messaging"
	"github.com/yourusername/linkedin-messenger/internal/ratelimit"
	"github.com/yourusername/linkedin-messenger/internal/session"
	"github.com/yourusername/linkedin-messenger/internal/storage"
)

// Version is reported by the index route.
const Version = "1.0.0"

// Runner executes browser runs.
type Runner interface {
	Send(ctx context.Context, requestID, profileURL, message string) messaging.Result
	Check(ctx context.Context) (messaging.CheckResult, []storage.InboxMessage)
	CheckDailyLimit() (bool, int, error)
	// Admit returns a refusal error when a send may not start now.
	Admit() error
}

// SessionStore manages the session artifact.
type SessionStore interface {
	Exists() bool
	Import(r io.Reader) (*session.State, error)
	Clear() error
}

// HistoryReader serves the history routes.
type HistoryReader interface {
	RecentSendAttempts(limit int) ([]storage.SendAttempt, error)
	GetStats() (map[string]int, error)
}

// Dispatcher queues callback jobs.
type Dispatcher interface {
	Submit(job callback.Job) error
}

// Deps are the handler dependencies. History may be nil.
type Deps struct {
	Runner          Runner
	Sessions        SessionStore
	History         HistoryReader
	Callbacks       Dispatcher
	Limiter         *ratelimit.Limiter
	RequestsPerHour int
	LogDir          string
	MaxUploadBytes  int64
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	deps Deps
	now  func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 5 << 20
	}
	return &Handler{deps: deps, now: time.Now}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(recoverMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	// Browser-driving routes are rate limited per client.
	runs := r.PathPrefix("").Subrouter()
	if h.deps.Limiter != nil {
		runs.Use(RateLimitMiddleware(h.deps.Limiter, h.deps.RequestsPerHour))
	}
	runs.HandleFunc("/send-message", h.SendMessage).Methods("POST")
	runs.HandleFunc("/check-messages", h.CheckMessages).Methods("GET")

	r.HandleFunc("/", h.Index).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/logs", h.Logs).Methods("GET")
	r.HandleFunc("/session", h.UploadSession).Methods("POST")
	r.HandleFunc("/session", h.DeleteSession).Methods("DELETE")
	r.HandleFunc("/history", h.History).Methods("GET")
	r.HandleFunc("/stats", h.Stats).Methods("GET")

	return r
}

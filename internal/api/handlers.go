package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourusername/linkedin-messenger/internal/callback"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/messaging"
)

// SendRequest is the body of POST /send-message.
type SendRequest struct {
	ProfileURL  string `json:"profileUrl"`
	Message     string `json:"message"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": msg}
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "active",
		"name":    "LinkedIn Messenger Bot",
		"version": Version,
		"endpoints": map[string]string{
			"/send-message":   "POST - Envoie un message LinkedIn",
			"/check-messages": "GET - Vérifie les messages reçus",
			"/session":        "POST - Importe une session LinkedIn, DELETE - la supprime",
			"/health":         "GET - Statut du serveur",
			"/logs":           "GET - Logs récents",
			"/history":        "GET - Derniers envois",
			"/stats":          "GET - Statistiques",
		},
	})
}

// SendMessage handles POST /send-message
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("corps de requête JSON invalide"))
		return
	}
	req.ProfileURL = strings.TrimSpace(req.ProfileURL)
	if req.ProfileURL == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("profileUrl et message requis"))
		return
	}
	if req.CallbackURL != "" && !isHTTPURL(req.CallbackURL) {
		writeJSON(w, http.StatusBadRequest, errorBody("callbackUrl invalide"))
		return
	}

	if err := h.deps.Runner.Admit(); err != nil {
		body := errorBody(err.Error())
		body["errorKind"] = messaging.KindOf(err)
		writeJSON(w, http.StatusTooManyRequests, body)
		return
	}

	requestID := RequestID(r.Context())
	logger.Info("New send request", "profile_url", req.ProfileURL, "request_id", requestID, "async", req.CallbackURL != "")

	if req.CallbackURL != "" {
		job := callback.Job{
			ID:  requestID,
			URL: req.CallbackURL,
			Run: func(ctx context.Context) interface{} {
				return h.deps.Runner.Send(ctx, requestID, req.ProfileURL, req.Message)
			},
		}
		if err := h.deps.Callbacks.Submit(job); err != nil {
			logger.Warn("Send request rejected", "request_id", requestID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody("file d'attente pleine, réessayez plus tard"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "processing",
			"profileUrl": req.ProfileURL,
			"message":    "Traitement en cours...",
			"requestId":  requestID,
		})
		return
	}

	// The run finishes even if the client goes away.
	res := h.deps.Runner.Send(context.WithoutCancel(r.Context()), requestID, req.ProfileURL, req.Message)
	writeJSON(w, http.StatusOK, res)
}

// CheckMessages handles GET /check-messages
func (h *Handler) CheckMessages(w http.ResponseWriter, r *http.Request) {
	res, _ := h.deps.Runner.Check(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, res)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"sessionConfigured": h.deps.Sessions.Exists(),
		"timestamp":         h.now().UTC(),
	})
}

// Logs handles GET /logs
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	lines, err := logger.Tail(h.deps.LogDir, h.now(), 50)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(lines) == 0) {
		io.WriteString(w, "Aucun log pour aujourd'hui\n")
		return
	}
	if err != nil {
		logger.Error("Failed to read log file", "error", err)
		http.Error(w, "lecture des logs impossible", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, strings.Join(lines, "\n")+"\n")
}

// UploadSession handles POST /session. The artifact is the raw JSON body or
// a multipart file field named "session".
func (h *Handler) UploadSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.deps.MaxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("formulaire invalide"))
			return
		}
		file, _, err := r.FormFile("session")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("champ session manquant"))
			return
		}
		defer file.Close()
		src = file
	}

	st, err := h.deps.Sessions.Import(src)
	if err != nil {
		logger.Warn("Session upload rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody("fichier de session invalide: "+err.Error()))
		return
	}

	logger.Info("Session uploaded", "cookies", len(st.Cookies), "origins", len(st.Origins))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session LinkedIn enregistrée",
		"cookies": len(st.Cookies),
	})
}

// DeleteSession handles DELETE /session
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Clear(); err != nil {
		logger.Error("Failed to clear session", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("suppression de la session impossible"))
		return
	}
	logger.Info("Session cleared")
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /history?limit=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody("historique désactivé"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit invalide"))
			return
		}
		limit = n
	}

	attempts, err := h.deps.History.RecentSendAttempts(limit)
	if err != nil {
		logger.Error("Failed to read history", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("lecture de l'historique impossible"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(attempts),
		"attempts": attempts,
	})
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody("historique désactivé"))
		return
	}

	stats, err := h.deps.History.GetStats()
	if err != nil {
		logger.Error("Failed to compute stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("calcul des statistiques impossible"))
		return
	}

	body := map[string]interface{}{"stats": stats}
	if allowed, remaining, err := h.deps.Runner.CheckDailyLimit(); err == nil && remaining >= 0 {
		body["dailyRemaining"] = remaining
		body["dailyLimitReached"] = !allowed
	}
	writeJSON(w, http.StatusOK, body)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

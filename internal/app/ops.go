package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/metrics"
	"PleaPipeline/internal/ports"
	"PleaPipeline/internal/prompt"
)

const maxBodyBytes = 64 << 10

type pinger interface {
	PingContext(ctx context.Context) error
}

// opsAPI serves health, metrics and the small admin surface used by trusted
// backends to register tokens and by operators to edit prompts.
type opsAPI struct {
	users   ports.UserRepository
	daily   ports.DailyContentRepository
	prompts *prompt.Store
	db      pinger
	token   string
	logger  *slog.Logger
}

// Router returns the ops HTTP handler.
func (a *Application) Router() http.Handler {
	api := &opsAPI{
		users:   a.store.users,
		daily:   a.store.daily,
		prompts: a.prompts,
		token:   a.cfg.Ops.Token,
		logger:  a.logger.With("component", "ops"),
	}
	if api.token == "" {
		api.logger.Warn("ops token not set, admin routes are closed")
	}
	if a.db != nil {
		api.db = a.db
	}
	return api.router()
}

func (o *opsAPI) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", o.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	admin := r.NewRoute().Subrouter()
	admin.Use(o.requireToken)
	admin.HandleFunc("/users/{id}/push-token", o.handleRegisterPushToken).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/preferences", o.handleUpdatePreferences).Methods(http.MethodPut)
	admin.HandleFunc("/prompts/filtering/{kind}", o.handleSaveFilteringPrompt).Methods(http.MethodPut)
	admin.HandleFunc("/prompts/generation", o.handleSaveGenerationPrompt).Methods(http.MethodPut)
	admin.HandleFunc("/daily/{date}", o.handleGetDaily).Methods(http.MethodGet)
	return r
}

// requireToken accepts "Authorization: Bearer <ops token>". With no token
// configured every request is refused.
func (o *opsAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || o.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(o.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ops"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (o *opsAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if o.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := o.db.PingContext(ctx); err != nil {
			o.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (o *opsAPI) handleRegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !domain.ValidPushToken(body.Token) {
		writeError(w, http.StatusBadRequest, "token is not an Expo push token")
		return
	}

	if err := o.users.RegisterPushToken(r.Context(), userID, body.Token); err != nil {
		o.logger.Error("register push token", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdatePreferences merges the given flags over the stored ones.
func (o *opsAPI) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var flags map[string]bool
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&flags); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	current := domain.DefaultPreferences()
	profile, err := o.users.Get(r.Context(), userID)
	switch {
	case err == nil:
		current = profile.Preferences
	case !errors.Is(err, domain.ErrNotFound):
		o.logger.Error("load profile", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	merged := current.Map()
	for key, value := range flags {
		if _, known := merged[key]; !known {
			writeError(w, http.StatusBadRequest, "unknown preference "+key)
			return
		}
		merged[key] = value
	}
	prefs := domain.PreferencesFromMap(merged)

	if err := o.users.UpdatePreferences(r.Context(), userID, prefs); err != nil {
		o.logger.Error("update preferences", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (o *opsAPI) handleSaveFilteringPrompt(w http.ResponseWriter, r *http.Request) {
	kind := domain.ContentKind(mux.Vars(r)["kind"])
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown content kind")
		return
	}
	text, ok := readText(w, r)
	if !ok {
		return
	}
	if err := o.prompts.SaveFilteringPrompt(r.Context(), kind, text); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (o *opsAPI) handleSaveGenerationPrompt(w http.ResponseWriter, r *http.Request) {
	text, ok := readText(w, r)
	if !ok {
		return
	}
	if err := o.prompts.SaveGenerationPrompt(r.Context(), text); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (o *opsAPI) handleGetDaily(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	content, err := o.daily.Get(r.Context(), date)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no content for "+date)
		return
	}
	if err != nil {
		o.logger.Error("load daily content", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load daily content")
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return "", false
	}
	return string(raw), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

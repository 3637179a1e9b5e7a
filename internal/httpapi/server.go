package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"outreach_engine/internal/config"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/model"
	"outreach_engine/internal/notify"
	"outreach_engine/internal/orchestrator"
	"outreach_engine/internal/store/sqlite"
	"outreach_engine/internal/ws"
)

const maskedPassword = "******"

type Options struct {
	Cfg          config.ServerConfig
	Bus          *logbus.Bus
	Store        *sqlite.Store
	Orchestrator *orchestrator.Orchestrator
}

type Server struct {
	cfg   config.ServerConfig
	bus   *logbus.Bus
	store *sqlite.Store
	orch  *orchestrator.Orchestrator
	ws    *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:   opts.Cfg,
		bus:   opts.Bus,
		store: opts.Store,
		orch:  opts.Orchestrator,
		ws:    ws.NewHandler(opts.Bus, opts.Cfg.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/ws", s.ws)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Cors.AllowOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: s.cfg.Cors.AllowCredentials,
			MaxAge:           300,
		}))

		r.Get("/stats", s.handleStats)

		r.Delete("/queues", s.handleClearAllQueues)
		r.Get("/queues/{category}", s.handleQueueStats)
		r.Delete("/queues/{category}", s.handleClearQueue)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleStartCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/pause", s.handlePauseCampaign)
			r.Post("/{id}/resume", s.handleResumeCampaign)
			r.Get("/{id}/outcomes", s.handleCampaignOutcomes)
		})

		r.Get("/blacklist", s.handleBlacklist)
		r.Post("/blacklist", s.handleAddBlacklist)
		r.Delete("/blacklist/{domain}", s.handleRemoveBlacklist)
		r.Get("/safety/usage", s.handleSafetyUsage)

		r.Post("/orchestrator/start", s.handleOrchestratorStart)
		r.Post("/orchestrator/stop", s.handleOrchestratorStop)

		r.Get("/settings/email", s.handleGetEmailSettings)
		r.Post("/settings/email", s.handleSaveEmailSettings)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.orch.Stats()})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	st, err := s.orch.QueueStats(cat)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": st})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	cat, ok := categoryParam(w, r)
	if !ok {
		return
	}
	if err := s.orch.ClearQueue(cat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClearAllQueues(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.ClearAllQueues(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.orch.Campaigns()})
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var body model.CampaignConfig
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	id, err := s.orch.StartCampaign(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.orch.Campaign(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": c})
}

// handleGetCampaign falls back to the mirror so campaigns from a previous run stay visible.
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.orch.Campaign(id)
	if errors.Is(err, orchestrator.ErrCampaignNotFound) && s.store != nil {
		c, err = s.store.GetCampaign(r.Context(), id)
		if errors.Is(err, sqlite.ErrNotFound) {
			err = orchestrator.ErrCampaignNotFound
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteCampaign(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.orch.PauseCampaign)
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.orch.ResumeCampaign)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(id); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.orch.Campaign(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

func (s *Server) handleCampaignOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	out, err := s.store.ListTaskOutcomes(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

type blacklistPayload struct {
	Domain string `json:"domain"`
}

func (s *Server) handleBlacklist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.orch.Blacklist()})
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var body blacklistPayload
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if err := s.orch.AddBlacklistedDomain(body.Domain); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.orch.Blacklist()})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	if !s.orch.RemoveBlacklistedDomain(chi.URLParam(r, "domain")) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "domain is not blacklisted"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.orch.Blacklist()})
}

func (s *Server) handleSafetyUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.orch.SafetyUsage()})
}

func (s *Server) handleOrchestratorStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.orch.Start(ctx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleOrchestratorStop waits for the in-flight attempt, bounded by the request timeout.
func (s *Server) handleOrchestratorStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.orch.Stop(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type emailSettingsPayload struct {
	Enabled  *bool    `json:"enabled,omitempty"`
	Host     *string  `json:"host,omitempty"`
	Port     *int     `json:"port,omitempty"`
	Username *string  `json:"username,omitempty"`
	Password *string  `json:"password,omitempty"`
	From     *string  `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`
}

func (s *Server) handleGetEmailSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
		return
	}
	val, ok, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"data": model.EmailSettings{To: []string{}}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": maskEmailSettings(val)})
}

// handleSaveEmailSettings patches the stored settings. Sending the masked password back
// keeps the stored one.
func (s *Server) handleSaveEmailSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
		return
	}
	var body emailSettingsPayload
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	current, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	next := current
	if body.Enabled != nil {
		next.Enabled = *body.Enabled
	}
	if body.Host != nil {
		next.Host = *body.Host
	}
	if body.Port != nil {
		next.Port = *body.Port
	}
	if body.Username != nil {
		next.Username = strings.TrimSpace(*body.Username)
	}
	if body.Password != nil {
		if pw := strings.TrimSpace(*body.Password); pw != maskedPassword {
			next.Password = pw
		}
	}
	if body.From != nil {
		next.From = *body.From
	}
	if body.To != nil {
		next.To = body.To
	}
	if next.Enabled {
		if err := notify.ValidateSettings(next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
	}

	saved, err := s.store.UpsertEmailSettings(r.Context(), next)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": maskEmailSettings(saved)})
}

func maskEmailSettings(v model.EmailSettings) model.EmailSettings {
	if v.Password != "" {
		v.Password = maskedPassword
	}
	if v.To == nil {
		v.To = []string{}
	}
	return v
}

func categoryParam(w http.ResponseWriter, r *http.Request) (model.Category, bool) {
	cat := model.Category(chi.URLParam(r, "category"))
	if !cat.Valid() {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown category " + strconv.Quote(string(cat))})
		return "", false
	}
	return cat, true
}

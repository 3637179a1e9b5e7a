package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach_engine/internal/config"
	"outreach_engine/internal/engine"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/model"
	"outreach_engine/internal/orchestrator"
	"outreach_engine/internal/provider/simulated"
	"outreach_engine/internal/queue"
	"outreach_engine/internal/safety"
	"outreach_engine/internal/store/sqlite"
)

type envelope[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error"`
	OK    bool   `json:"ok"`
}

type testServer struct {
	srv   *httptest.Server
	store *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg, err := config.Load(config.Options{
		Overrides:   map[string]any{"safety.minSiteGapSeconds": 0},
		DotEnvFiles: []string{},
		LookupEnv:   func(string) (string, bool) { return "", false },
	})
	require.NoError(t, err)

	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	bus := logbus.New(100)
	registry := engine.NewDefaultRegistry(engine.Deps{
		Generator: simulated.NewGenerator(),
		Publisher: simulated.NewPublisher(),
		Bus:       bus,
	}, cfg.Engine)
	orch := orchestrator.New(orchestrator.Options{
		Queue:   queue.New(),
		Gate:    safety.New(safety.SettingsFromConfig(cfg.Safety())),
		Engines: registry,
		Config:  cfg,
		Bus:     bus,
	})

	srv := httptest.NewServer(New(Options{
		Cfg:          cfg.Server(),
		Bus:          bus,
		Store:        st,
		Orchestrator: orch,
	}).Handler())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, orch.Close(ctx))
		bus.Close()
		_ = st.Close()
	})
	return &testServer{srv: srv, store: st}
}

func do[T any](t *testing.T, ts *testServer, method, path string, body any) (int, envelope[T]) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func blogCampaign(keywords ...string) model.CampaignConfig {
	return model.CampaignConfig{
		Name:     "spring",
		Keywords: keywords,
		LinkURL:  "https://example.com/guide",
		Engines: map[model.Category]model.EngineOptions{
			model.CategoryBlogComment: {Enabled: true, Targets: []string{"blog.example/a", "news.example/b"}, PerTargetCap: 1},
		},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, env := do[any](t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.OK)
}

func TestCampaignLifecycle(t *testing.T) {
	ts := newTestServer(t)

	code, bad := do[any](t, ts, http.MethodPost, "/api/v1/campaigns", blogCampaign())
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, bad.Error, "keyword")

	code, created := do[model.Campaign](t, ts, http.MethodPost, "/api/v1/campaigns", blogCampaign("solar panels"))
	require.Equal(t, http.StatusCreated, code)
	id := created.Data.ID
	require.NotEmpty(t, id)
	assert.Equal(t, model.CampaignActive, created.Data.Status)
	assert.Equal(t, 2, created.Data.Counters.Total)

	code, list := do[[]model.Campaign](t, ts, http.MethodGet, "/api/v1/campaigns", nil)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, list.Data, 1)

	code, _ = do[any](t, ts, http.MethodDelete, "/api/v1/campaigns/"+id, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, paused := do[model.Campaign](t, ts, http.MethodPost, "/api/v1/campaigns/"+id+"/pause", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.CampaignPaused, paused.Data.Status)

	code, resumed := do[model.Campaign](t, ts, http.MethodPost, "/api/v1/campaigns/"+id+"/resume", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.CampaignActive, resumed.Data.Status)

	_, _ = do[model.Campaign](t, ts, http.MethodPost, "/api/v1/campaigns/"+id+"/pause", nil)
	code, _ = do[any](t, ts, http.MethodDelete, "/api/v1/campaigns/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, missing := do[any](t, ts, http.MethodGet, "/api/v1/campaigns/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, missing.Error, "campaign not found")
}

func TestStatsAndQueues(t *testing.T) {
	ts := newTestServer(t)
	_, _ = do[model.Campaign](t, ts, http.MethodPost, "/api/v1/campaigns", blogCampaign("solar panels"))

	code, stats := do[orchestrator.Stats](t, ts, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, stats.Data.Running)
	assert.Equal(t, 1, stats.Data.Campaigns[model.CampaignActive])

	code, qs := do[model.QueueStats](t, ts, http.MethodGet, "/api/v1/queues/blog_comment", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.CategoryBlogComment, qs.Data.Category)
	assert.Equal(t, 2, qs.Data.Pending)

	code, _ = do[any](t, ts, http.MethodGet, "/api/v1/queues/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do[any](t, ts, http.MethodDelete, "/api/v1/queues/blog_comment", nil)
	assert.Equal(t, http.StatusOK, code)
	_, qs = do[model.QueueStats](t, ts, http.MethodGet, "/api/v1/queues/blog_comment", nil)
	assert.Zero(t, qs.Data.Pending)

	_, stats = do[orchestrator.Stats](t, ts, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, 1, stats.Data.Campaigns[model.CampaignCompleted])

	code, _ = do[any](t, ts, http.MethodDelete, "/api/v1/queues", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCampaignFallsBackToStore(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	created := time.UnixMilli(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli())
	require.NoError(t, ts.store.UpsertCampaign(ctx, model.Campaign{
		ID:        "old",
		Status:    model.CampaignCompleted,
		Counters:  model.CampaignCounters{Total: 1, Completed: 1},
		CreatedAt: created,
		UpdatedAt: created,
	}))
	require.NoError(t, ts.store.InsertTaskOutcome(ctx, model.TaskOutcome{
		TaskID:     "t1",
		CampaignID: "old",
		Category:   model.CategoryForum,
		Status:     model.TaskCompleted,
		AtMs:       created.UnixMilli(),
	}))

	code, got := do[model.Campaign](t, ts, http.MethodGet, "/api/v1/campaigns/old", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.CampaignCompleted, got.Data.Status)

	code, outs := do[[]model.TaskOutcome](t, ts, http.MethodGet, "/api/v1/campaigns/old/outcomes?limit=5", nil)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, outs.Data, 1)
	assert.Equal(t, "t1", outs.Data[0].TaskID)

	code, _ = do[any](t, ts, http.MethodGet, "/api/v1/campaigns/old/outcomes?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBlacklistEndpoints(t *testing.T) {
	ts := newTestServer(t)

	code, list := do[[]string](t, ts, http.MethodPost, "/api/v1/blacklist", map[string]any{"domain": "https://Spam.Example/x"})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, list.Data, "spam.example")

	code, _ = do[any](t, ts, http.MethodPost, "/api/v1/blacklist", map[string]any{"domain": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do[any](t, ts, http.MethodPost, "/api/v1/blacklist", `{"host":"x.example"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do[[]string](t, ts, http.MethodDelete, "/api/v1/blacklist/spam.example", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do[any](t, ts, http.MethodDelete, "/api/v1/blacklist/spam.example", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do[[]model.ScopeUsage](t, ts, http.MethodGet, "/api/v1/safety/usage", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestOrchestratorStartStop(t *testing.T) {
	ts := newTestServer(t)

	code, _ := do[any](t, ts, http.MethodPost, "/api/v1/orchestrator/start", nil)
	assert.Equal(t, http.StatusOK, code)
	_, stats := do[orchestrator.Stats](t, ts, http.MethodGet, "/api/v1/stats", nil)
	assert.True(t, stats.Data.Running)

	code, _ = do[any](t, ts, http.MethodPost, "/api/v1/orchestrator/stop", nil)
	assert.Equal(t, http.StatusOK, code)
	code, env := do[any](t, ts, http.MethodPost, "/api/v1/orchestrator/stop", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, env.Error, "not running")
}

func TestEmailSettingsKeepMaskedPassword(t *testing.T) {
	ts := newTestServer(t)

	code, empty := do[model.EmailSettings](t, ts, http.MethodGet, "/api/v1/settings/email", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, empty.Data.Enabled)

	code, _ = do[any](t, ts, http.MethodPost, "/api/v1/settings/email", map[string]any{
		"enabled": true,
		"from":    "not-an-address",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, saved := do[model.EmailSettings](t, ts, http.MethodPost, "/api/v1/settings/email", map[string]any{
		"enabled":  true,
		"from":     "ops@example.com",
		"to":       []string{"team@example.com"},
		"password": "secret",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "******", saved.Data.Password)

	code, _ = do[model.EmailSettings](t, ts, http.MethodPost, "/api/v1/settings/email", map[string]any{
		"host":     "smtp.example.com",
		"password": "******",
	})
	require.Equal(t, http.StatusOK, code)

	stored, ok, err := ts.store.GetEmailSettings(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret", stored.Password)
	assert.Equal(t, "smtp.example.com", stored.Host)
}

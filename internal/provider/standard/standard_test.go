package standard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

func TestPublisherMapsUpstreamStatus(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/publish", r.URL.Path)
		gotUA.Store(r.Header.Get("User-Agent"))

		var body struct {
			Destination string        `json:"destination"`
			Payload     model.Payload `json:"payload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(body.Destination, "held"):
			_, _ = w.Write([]byte(`{"success":true,"data":{"status":"pending","detail":"awaiting approval"}}`))
		case strings.Contains(body.Destination, "denied"):
			_, _ = w.Write([]byte(`{"success":false,"error":"comments closed"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"data":{"status":"posted","url":"` + body.Destination + `#c1"}}`))
		}
	}))
	defer srv.Close()

	p := NewPublisher(config.PublisherConfig{BaseURL: srv.URL, TimeoutMs: 2000}, nil)
	ctx := context.Background()

	out, err := p.Publish(ctx, provider.PublishRequest{
		Category:    model.CategoryBlogComment,
		Destination: "https://blog.example/post",
		Payload:     model.Payload{BlogComment: &model.BlogCommentPayload{Comment: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusPosted, out.Status)
	assert.Equal(t, "https://blog.example/post#c1", out.URL)
	assert.NoError(t, out.Err())
	assert.True(t, strings.HasPrefix(gotUA.Load().(string), "Mozilla/5.0"))

	out, err = p.Publish(ctx, provider.PublishRequest{Destination: "https://held.example/"})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusModeration, out.Status)
	assert.ErrorIs(t, out.Err(), provider.ErrModeration)

	out, err = p.Publish(ctx, provider.PublishRequest{Destination: "https://denied.example/"})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusFailed, out.Status)
	assert.EqualError(t, out.Err(), "comments closed")

	_, err = p.Publish(ctx, provider.PublishRequest{})
	assert.Error(t, err)
}

func TestPublisherServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPublisher(config.PublisherConfig{
		BaseURL:   srv.URL,
		TimeoutMs: 2000,
		Retry:     config.RetryConfig{Count: 1, WaitMs: 1, MaxWaitMs: 2},
	}, nil)
	_, err := p.Publish(context.Background(), provider.PublishRequest{Destination: "https://x.example/"})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "one retry on 5xx")
}

func TestGeneratorSendsKeyAndModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "writer-1", body["model"])
		assert.Equal(t, "go testing", body["keyword"])

		w.Header().Set("Content-Type", "application/json")
		if body["kind"] == "empty" {
			_, _ = w.Write([]byte(`{"success":true,"data":{"body":"  "}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"title":"On go testing","body":"Table tests help."}}`))
	}))
	defer srv.Close()

	g := NewGenerator(config.GeneratorConfig{BaseURL: srv.URL, APIKey: "secret", Model: "writer-1", TimeoutMs: 2000, QPS: 100, Burst: 10}, nil)
	c, err := g.Generate(context.Background(), provider.GenerateRequest{Keyword: "go testing", Kind: "comment"})
	require.NoError(t, err)
	assert.Equal(t, "On go testing", c.Title)
	assert.Equal(t, "Table tests help.", c.Body)

	_, err = g.Generate(context.Background(), provider.GenerateRequest{Keyword: "go testing", Kind: "empty"})
	assert.Error(t, err)
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := newLimiterSet(0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.wait(ctx, "10.0.0.1"))
	cancel()
	assert.Error(t, l.wait(ctx, "10.0.0.1"))
}

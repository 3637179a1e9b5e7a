package simulated

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach_engine/internal/provider"
)

func TestPublisherMarkers(t *testing.T) {
	p := NewPublisher()
	ctx := context.Background()

	cases := map[string]provider.Status{
		"https://blog.example/post":           provider.StatusPosted,
		"https://captcha.example/post":        provider.StatusCaptcha,
		"https://moderated.example/thread":    provider.StatusModeration,
		"https://example.org/fail-on-purpose": provider.StatusFailed,
	}
	for dest, want := range cases {
		out, err := p.Publish(ctx, provider.PublishRequest{Destination: dest})
		require.NoError(t, err)
		assert.Equal(t, want, out.Status, dest)
	}
	assert.Len(t, p.Calls(), len(cases))

	a, _ := p.Publish(ctx, provider.PublishRequest{Destination: "https://blog.example/post"})
	b, _ := p.Publish(ctx, provider.PublishRequest{Destination: "https://blog.example/post"})
	assert.Equal(t, a.URL, b.URL)
}

func TestGeneratorIsDeterministic(t *testing.T) {
	g := NewGenerator()
	req := provider.GenerateRequest{Keyword: "solar panels", AnchorText: "our guide", TargetURL: "https://a.example"}
	a, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a.Body, "solar panels")
	assert.Contains(t, a.Body, "our guide")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

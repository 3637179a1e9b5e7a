package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
	"outreach_engine/internal/provider/simulated"
)

func testSettings(cat model.Category) config.EngineSettings {
	return config.EngineSettings{
		Category: cat,
		EngineConfig: config.EngineConfig{
			Enabled:      true,
			BatchSize:    5,
			PerTargetCap: 2,
			MaxRetries:   3,
			Features:     map[string]bool{"spamCheck": true, "duplicateCheck": true},
		},
	}
}

func testRegistry(pub provider.Publisher) *Registry {
	if pub == nil {
		pub = simulated.NewPublisher()
	}
	return NewDefaultRegistry(Deps{Generator: simulated.NewGenerator(), Publisher: pub}, testSettings)
}

func campaign(cat model.Category, opts model.EngineOptions) model.CampaignConfig {
	opts.Enabled = true
	return model.CampaignConfig{
		Name:        "spring",
		Keywords:    []string{"solar panels", "home batteries"},
		AnchorTexts: []string{"our guide"},
		LinkURL:     "https://example.com/guide",
		Identities:  []string{"10.0.0.1", "http://10.0.0.2:3128"},
		Engines:     map[model.Category]model.EngineOptions{cat: opts},
	}
}

func TestRegistryOrder(t *testing.T) {
	r := testRegistry(nil)
	assert.Equal(t, model.AllCategories(), r.Categories())
	for _, cat := range model.AllCategories() {
		e, ok := r.Get(cat)
		require.True(t, ok)
		assert.Equal(t, cat, e.Category())
	}
	_, ok := r.Get(model.Category("carrier_pigeon"))
	assert.False(t, ok)
}

func TestBlogCommentGeneratesSlotsWithPriority(t *testing.T) {
	e, _ := testRegistry(nil).Get(model.CategoryBlogComment)
	cfg := campaign(model.CategoryBlogComment, model.EngineOptions{
		Targets: []string{"https://cs.stanford.edu/blog/1", "http://plain.example/p", "charity.org/news"},
		Options: map[string]string{"authorName": "Sam"},
	})

	tasks, err := e.GenerateTasks("c1", cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 6)

	assert.Equal(t, 1, tasks[0].Priority, ".edu over https")
	assert.Equal(t, 5, tasks[2].Priority, "plain http")
	assert.Equal(t, 3, tasks[4].Priority, ".org over https")
	assert.Equal(t, "https://charity.org/news", tasks[4].Target.URL)

	for _, task := range tasks {
		assert.Equal(t, "c1", task.CampaignID)
		assert.Equal(t, model.CategoryBlogComment, task.Category)
		assert.Equal(t, model.TaskPending, task.Status)
		require.NotNil(t, task.Payload.BlogComment)
		assert.Equal(t, "Sam", task.Payload.BlogComment.AuthorName)
		assert.Equal(t, "https://example.com/guide", task.Target.LinkURL)
	}
	assert.Equal(t, "solar panels", tasks[0].Target.Keyword)
	assert.Equal(t, "home batteries", tasks[1].Target.Keyword)
	assert.Equal(t, "10.0.0.1", tasks[0].Target.Identity)
	assert.Equal(t, "http://10.0.0.2:3128", tasks[1].Target.Identity)
}

func TestGenerateTasksSkipsDisabledAndRejectsBadTargets(t *testing.T) {
	r := testRegistry(nil)
	e, _ := r.Get(model.CategoryForum)

	cfg := campaign(model.CategoryForum, model.EngineOptions{Targets: []string{"forum.example/t/1"}})
	opts := cfg.Engines[model.CategoryForum]
	opts.Enabled = false
	cfg.Engines[model.CategoryForum] = opts
	tasks, err := e.GenerateTasks("c1", cfg)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = e.GenerateTasks("c1", campaign(model.CategoryForum, model.EngineOptions{Targets: []string{"ftp://files.example/x"}}))
	assert.Error(t, err)
}

func TestPerEnginePriorities(t *testing.T) {
	r := testRegistry(nil)

	article, _ := r.Get(model.CategoryArticlePost)
	tasks, err := article.GenerateTasks("c", campaign(model.CategoryArticlePost, model.EngineOptions{
		Targets: []string{"medium.com", "dev.to"},
		Options: map[string]string{"tier.medium.com": "tier1"},
	}))
	require.NoError(t, err)
	require.Len(t, tasks, 2, "one task per platform")
	assert.Equal(t, 2, tasks[0].Priority)
	assert.Equal(t, model.DefaultPriority, tasks[1].Priority)
	assert.Equal(t, "tier1", tasks[0].Payload.ArticlePost.Tier)

	profile, _ := r.Get(model.CategoryProfile)
	tasks, err = profile.GenerateTasks("c", campaign(model.CategoryProfile, model.EngineOptions{Targets: []string{"about.me"}}))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 6, tasks[0].Priority)
	assert.Equal(t, "solar_panels", tasks[0].Payload.Profile.Username)

	social, _ := r.Get(model.CategorySocialMedia)
	tasks, err = social.GenerateTasks("c", campaign(model.CategorySocialMedia, model.EngineOptions{Targets: []string{"x.com"}, PerTargetCap: 3}))
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, 3, tasks[0].Priority)

	forum, _ := r.Get(model.CategoryForum)
	tasks, err = forum.GenerateTasks("c", campaign(model.CategoryForum, model.EngineOptions{
		Targets:      []string{"forum.example/t/1", "active:forum.example/t/2"},
		PerTargetCap: 1,
	}))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 4, tasks[0].Priority)
	assert.Equal(t, 3, tasks[1].Priority)
	assert.Equal(t, "https://forum.example/t/2", tasks[1].Target.URL)

	tasks, err = forum.GenerateTasks("c", campaign(model.CategoryForum, model.EngineOptions{Targets: []string{"active:forum.example/t/3"}, Priority: 9, PerTargetCap: 1}))
	require.NoError(t, err)
	assert.Equal(t, 9, tasks[0].Priority, "explicit priority wins")
}

func TestAttemptMapsPublisherStatus(t *testing.T) {
	pub := simulated.NewPublisher()
	e, _ := testRegistry(pub).Get(model.CategoryBlogComment)
	cfg := campaign(model.CategoryBlogComment, model.EngineOptions{
		Targets:      []string{"blog.example/a", "moderated.example/b", "captcha.example/c", "failing.example/d"},
		PerTargetCap: 1,
	})
	tasks, err := e.GenerateTasks("c1", cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	ctx := context.Background()

	res, err := e.Attempt(ctx, tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "posted", res.Status)
	assert.Contains(t, res.URL, "https://blog.example/a#sim-")
	assert.Contains(t, res.Content, "solar panels")

	res, err = e.Attempt(ctx, tasks[1])
	require.NoError(t, err, "moderation counts as success")
	assert.Equal(t, "moderation", res.Status)

	_, err = e.Attempt(ctx, tasks[2])
	assert.ErrorIs(t, err, provider.ErrCaptcha)

	_, err = e.Attempt(ctx, tasks[3])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	calls := pub.Calls()
	require.Len(t, calls, 4)
	require.NotNil(t, calls[0].Payload.BlogComment)
	assert.NotEmpty(t, calls[0].Payload.BlogComment.Comment)
	assert.Equal(t, model.Identity("10.0.0.1"), calls[0].Identity)
}

func TestAttemptRejectsDuplicateContent(t *testing.T) {
	e, _ := testRegistry(nil).Get(model.CategoryForum)
	tasks, err := e.GenerateTasks("c1", campaign(model.CategoryForum, model.EngineOptions{Targets: []string{"forum.example/t/1"}, PerTargetCap: 1}))
	require.NoError(t, err)

	_, err = e.Attempt(context.Background(), tasks[0])
	require.NoError(t, err)
	_, err = e.Attempt(context.Background(), tasks[0])
	assert.ErrorIs(t, err, ErrDuplicateContent)
}

type stubGenerator struct {
	body string
	err  error
}

func (g stubGenerator) Name() string { return "stub" }

func (g stubGenerator) Generate(context.Context, provider.GenerateRequest) (provider.Content, error) {
	return provider.Content{Body: g.body}, g.err
}

func TestAttemptPropagatesGeneratorFailure(t *testing.T) {
	pub := simulated.NewPublisher()
	boom := errors.New("model overloaded")
	e := NewSocialMedia(Deps{Generator: stubGenerator{err: boom}, Publisher: pub}, testSettings(model.CategorySocialMedia))
	tasks, err := e.GenerateTasks("c1", campaign(model.CategorySocialMedia, model.EngineOptions{Targets: []string{"x.com"}, PerTargetCap: 1}))
	require.NoError(t, err)

	_, err = e.Attempt(context.Background(), tasks[0])
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Calls(), "nothing is published without content")

	spam := NewSocialMedia(Deps{Generator: stubGenerator{body: "Click here to buy now and get free money from our amazing offer today"}, Publisher: pub}, testSettings(model.CategorySocialMedia))
	_, err = spam.Attempt(context.Background(), tasks[0])
	assert.ErrorIs(t, err, ErrSpamContent)

	_, err = NewProfile(Deps{}, testSettings(model.CategoryProfile)).Attempt(context.Background(), tasks[0])
	assert.ErrorIs(t, err, ErrNotWired)
}

func TestScoreAndSpamHeuristics(t *testing.T) {
	good := "Thanks for the write-up. I have tried two solar panels setups at home and the inverter choice mattered far more than the panel brand."
	assert.GreaterOrEqual(t, Score(good, "solar panels"), 0.8)
	assert.Less(t, Score("nice", ""), minContentScore)
	assert.Less(t, Score(strings.Repeat("BUY THIS NOW ", 10), ""), Score(good, ""))
	assert.Less(t, Score("see http://a.example http://b.example http://c.example for more info", ""), 0.3)

	assert.True(t, LooksSpammy("deal deal deal deal deal on deal deal today"))
	assert.False(t, LooksSpammy(good))
	assert.Equal(t, fingerprint("Hello,   World!"), fingerprint("hello world"))
}

package safety

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach_engine/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func blogTask(rawURL string) model.Task {
	return model.Task{
		ID:       "t-" + rawURL,
		Category: model.CategoryBlogComment,
		Target:   model.Target{URL: rawURL},
	}
}

func TestBlacklistDeniesRegardlessOfQuota(t *testing.T) {
	g := New(Settings{Blacklist: []string{"spam.example"}})

	task := blogTask("https://www.spam.example/post/1")
	d := g.Check(task)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "blacklisted")

	assert.False(t, g.CanProcess(blogTask("https://blog.spam.example/x")), "subdomains are covered")
	assert.True(t, g.CanProcess(blogTask("https://notspam.example/x")))

	assert.True(t, g.RemoveBlacklistedDomain("SPAM.example"))
	assert.False(t, g.RemoveBlacklistedDomain("spam.example"))
	assert.True(t, g.CanProcess(task))

	require.NoError(t, g.AddBlacklistedDomain("https://Spam.Example/anything"))
	assert.Equal(t, []string{"spam.example"}, g.Blacklist())
	assert.False(t, g.CanProcess(task))
	assert.Error(t, g.AddBlacklistedDomain("  "))
}

func TestHourlyCeilingRollsOver(t *testing.T) {
	clock := newClock()
	const n = 3
	g := New(Settings{Global: Limits{PerHour: n, PerDay: 100}}, WithClock(clock.Now))

	for i := 0; i < n; i++ {
		task := blogTask(fmt.Sprintf("https://site%d.example/p", i))
		require.True(t, g.CanProcess(task), "action %d", i)
		g.Record(task)
		clock.Advance(time.Minute)
	}

	d := g.Check(blogTask("https://another.example/p"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeGlobal, d.Scope)

	clock.Advance(time.Hour)
	assert.True(t, g.CanProcess(blogTask("https://another.example/p")))
}

func TestDailyCeilingPerIdentity(t *testing.T) {
	clock := newClock()
	g := New(Settings{Identity: Limits{PerDay: 2}}, WithClock(clock.Now))

	task := blogTask("https://a.example/p")
	task.Target.Identity = "http://user:pw@10.1.1.1:3128"
	for i := 0; i < 2; i++ {
		require.True(t, g.CanProcess(task))
		g.Record(task)
		clock.Advance(2 * time.Hour)
	}
	d := g.Check(task)
	assert.False(t, d.Allowed)
	assert.Equal(t, IdentityScope("10.1.1.1"), d.Scope)

	other := task
	other.Target.Identity = "10.2.2.2"
	assert.True(t, g.CanProcess(other))
}

func TestMinimumGapPerDestination(t *testing.T) {
	clock := newClock()
	g := New(Settings{MinSiteGap: 30 * time.Second}, WithClock(clock.Now))

	task := blogTask("https://blog.example/a")
	g.Record(task)

	clock.Advance(10 * time.Second)
	d := g.Check(blogTask("https://blog.example/b"))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "minimum delay")
	assert.True(t, g.CanProcess(blogTask("https://elsewhere.example/b")))

	clock.Advance(20 * time.Second)
	assert.True(t, g.CanProcess(blogTask("https://blog.example/b")))
}

func TestRedFlagsScanURLAndContent(t *testing.T) {
	g := New(Settings{RedFlags: []string{"wp-login.php", "Casino"}})

	assert.False(t, g.CanProcess(blogTask("https://blog.example/wp-login.php")))

	task := blogTask("https://blog.example/post")
	task.Payload.BlogComment = &model.BlogCommentPayload{Comment: "Visit our CASINO today"}
	d := g.Check(task)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "casino")

	task.Payload.BlogComment.Comment = "Thoughtful reply"
	assert.True(t, g.CanProcess(task))
}

func TestRedFlagsScanGenerationInputs(t *testing.T) {
	g := New(Settings{RedFlags: []string{"payday loan"}})

	task := blogTask("https://blog.example/post")
	task.Target.Keyword = "Payday Loan tips"
	d := g.Check(task)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "payday loan")

	task.Target.Keyword = "budgeting"
	task.Target.AnchorText = "best payday loan"
	assert.False(t, g.CanProcess(task))

	task.Target.AnchorText = "our guide"
	task.Target.LinkURL = "https://example.com/payday loan"
	assert.False(t, g.CanProcess(task))

	task.Target.LinkURL = "https://example.com/guide"
	assert.True(t, g.CanProcess(task))
}

func TestAdmitRecordsOnlyWhatFitsUnderTheCeiling(t *testing.T) {
	g := New(Settings{Global: Limits{PerHour: 5}})

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if g.Admit(blogTask(fmt.Sprintf("https://site%d.example/a", i))).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
	for _, u := range g.Usage() {
		if u.Scope == ScopeGlobal {
			assert.Equal(t, 5, u.LastHour)
		}
	}
	assert.False(t, g.Admit(blogTask("https://late.example/a")).Allowed)
}

func TestCheckDoesNotMutateOnDenial(t *testing.T) {
	clock := newClock()
	g := New(Settings{Site: Limits{PerHour: 1}}, WithClock(clock.Now))

	task := blogTask("https://blog.example/a")
	g.Record(task)
	for i := 0; i < 3; i++ {
		assert.False(t, g.CanProcess(task))
	}

	usage := g.Usage()
	for _, u := range usage {
		assert.Equal(t, 1, u.LastDay, u.Scope)
	}
}

func TestInvalidDestinationFailsClosed(t *testing.T) {
	g := New(Settings{})
	d := g.Check(blogTask("https://bad host/%zz"))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "invalid destination")

	assert.True(t, g.CanProcess(model.Task{Category: model.CategorySocialMedia}), "tasks without a destination skip site checks")
}

func TestRecordPrunesToTrailingDay(t *testing.T) {
	clock := newClock()
	g := New(Settings{}, WithClock(clock.Now))

	task := blogTask("https://blog.example/a")
	g.Record(task)
	g.Record(task)
	clock.Advance(25 * time.Hour)
	g.Record(task)

	g.mu.Lock()
	n := len(g.buckets[ScopeGlobal])
	g.mu.Unlock()
	assert.Equal(t, 1, n)

	var site model.ScopeUsage
	for _, u := range g.Usage() {
		if u.Scope == SiteScope("blog.example") {
			site = u
		}
	}
	assert.Equal(t, 1, site.LastHour)
	assert.Equal(t, 1, site.LastDay)
	assert.Equal(t, clock.Now().UnixMilli(), site.LastAtMs)
}

func TestRecordCoversEngineScope(t *testing.T) {
	clock := newClock()
	g := New(Settings{Engine: Limits{PerHour: 1}}, WithClock(clock.Now))

	g.Record(model.Task{Category: model.CategoryForum})
	d := g.Check(model.Task{Category: model.CategoryForum})
	assert.False(t, d.Allowed)
	assert.Equal(t, EngineScope(model.CategoryForum), d.Scope)
	assert.True(t, g.CanProcess(model.Task{Category: model.CategoryProfile}))
}

func TestValidateCampaignCapacityGuard(t *testing.T) {
	g := New(Settings{Global: Limits{PerHour: 200, PerDay: 40}})

	targets := make([]string, 10)
	for i := range targets {
		targets[i] = fmt.Sprintf("https://blog%d.example/post", i)
	}
	cfg := model.CampaignConfig{
		Engines: map[model.Category]model.EngineOptions{
			model.CategoryBlogComment: {Enabled: true, Targets: targets, PerTargetCap: 5},
		},
	}

	est, err := g.ValidateCampaign(cfg, nil)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 50, est.Actions)
	assert.Equal(t, 40, est.Ceiling)

	opts := cfg.Engines[model.CategoryBlogComment]
	opts.PerTargetCap = 0
	cfg.Engines[model.CategoryBlogComment] = opts
	est, err = g.ValidateCampaign(cfg, func(model.Category) int { return 3 })
	require.NoError(t, err)
	assert.Equal(t, 30, est.PerEngine[model.CategoryBlogComment])
}

func TestValidateCampaignRejectsBlacklistedTarget(t *testing.T) {
	g := New(Settings{Global: Limits{PerDay: 1000}, Blacklist: []string{"bad.example"}})
	cfg := model.CampaignConfig{
		Engines: map[model.Category]model.EngineOptions{
			model.CategoryForum: {Enabled: true, Targets: []string{"https://ok.example/f", "https://forum.bad.example/t/1"}},
		},
	}
	_, err := g.ValidateCampaign(cfg, nil)
	require.ErrorIs(t, err, ErrBlacklistedTarget)
	assert.Contains(t, err.Error(), "forum.bad.example")

	_, err = g.ValidateCampaign(model.CampaignConfig{}, nil)
	require.ErrorIs(t, err, ErrInvalidCampaign)
}

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"https://WWW.Example.com:8443/path?q=1": "example.com",
		"example.com.":                          "example.com",
		"blog.example.com/post":                 "blog.example.com",
		"localhost:8080":                        "localhost",
		"active:forum.example/t/2":              "forum.example",
		"":                                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

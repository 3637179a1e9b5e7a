package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"outreach_engine/internal/config"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

// Engine turns a campaign into tasks of one category and attempts those tasks.
// Implementations never touch the safety gate or the queue store.
type Engine interface {
	Category() model.Category
	// GenerateTasks describes the work a campaign implies. It performs no I/O.
	GenerateTasks(campaignID string, cfg model.CampaignConfig) ([]model.Task, error)
	// Attempt performs the action. A nil error means success; the result may be set either way.
	Attempt(ctx context.Context, task model.Task) (model.TaskResult, error)
}

var ErrNotWired = errors.New("engine has no generator or publisher")

// Deps are the collaborators shared by every engine. Engines keep their own heuristic state.
type Deps struct {
	Generator provider.Generator
	Publisher provider.Publisher
	Bus       *logbus.Bus
}

type Registry struct {
	engines map[model.Category]Engine
}

func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[model.Category]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Category()] = e
	}
	return r
}

// NewDefaultRegistry builds the five built-in engines. settings is usually
// (*config.Store).Engine.
func NewDefaultRegistry(deps Deps, settings func(model.Category) config.EngineSettings) *Registry {
	return NewRegistry(
		NewBlogComment(deps, settings(model.CategoryBlogComment)),
		NewArticlePost(deps, settings(model.CategoryArticlePost)),
		NewProfile(deps, settings(model.CategoryProfile)),
		NewSocialMedia(deps, settings(model.CategorySocialMedia)),
		NewForum(deps, settings(model.CategoryForum)),
	)
}

func (r *Registry) Get(cat model.Category) (Engine, bool) {
	e, ok := r.engines[cat]
	return e, ok
}

// Categories returns the registered categories in processing order.
func (r *Registry) Categories() []model.Category {
	out := make([]model.Category, 0, len(r.engines))
	for _, cat := range model.AllCategories() {
		if _, ok := r.engines[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

type base struct {
	category model.Category
	settings config.EngineSettings
	gen      provider.Generator
	pub      provider.Publisher
	bus      *logbus.Bus
	checker  *contentChecker
}

func newBase(cat model.Category, deps Deps, settings config.EngineSettings) base {
	return base{
		category: cat,
		settings: settings,
		gen:      deps.Generator,
		pub:      deps.Publisher,
		bus:      deps.Bus,
		checker:  newContentChecker(settings.Feature("spamCheck"), settings.Feature("duplicateCheck")),
	}
}

func (b *base) Category() model.Category { return b.category }

func (b *base) options(cfg model.CampaignConfig) (model.EngineOptions, bool) {
	opts, ok := cfg.Engines[b.category]
	return opts, ok && opts.Enabled
}

func (b *base) perTarget(opts model.EngineOptions) int {
	if opts.PerTargetCap > 0 {
		return opts.PerTargetCap
	}
	if b.settings.PerTargetCap > 0 {
		return b.settings.PerTargetCap
	}
	return 1
}

// newTask fills the common header. n spreads keywords, anchors and identities across tasks.
func (b *base) newTask(campaignID string, cfg model.CampaignConfig, target string, n, priority int) model.Task {
	keyword := pickString(cfg.Keywords, n)
	anchor := pickString(cfg.AnchorTexts, n)
	if anchor == "" {
		anchor = keyword
	}
	maxRetries := b.settings.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	return model.Task{
		Category:   b.category,
		CampaignID: campaignID,
		Priority:   clampPriority(priority),
		Status:     model.TaskPending,
		MaxRetries: maxRetries,
		Target: model.Target{
			URL:        target,
			Identity:   pickString(cfg.Identities, n),
			Keyword:    keyword,
			AnchorText: anchor,
			LinkURL:    cfg.LinkURL,
		},
	}
}

// attempt runs the shared pipeline: generate, check, render, publish, classify.
func (b *base) attempt(ctx context.Context, task model.Task, kind string, render func(*model.Task, provider.Content)) (model.TaskResult, error) {
	if b.gen == nil || b.pub == nil {
		return model.TaskResult{}, ErrNotWired
	}

	content, err := b.gen.Generate(ctx, provider.GenerateRequest{
		Category:   b.category,
		Kind:       kind,
		Keyword:    task.Target.Keyword,
		AnchorText: task.Target.AnchorText,
		TargetURL:  task.Target.URL,
		LinkURL:    task.Target.LinkURL,
	})
	if err != nil {
		return model.TaskResult{}, fmt.Errorf("generate content: %w", err)
	}
	if err := b.checker.check(content.Body, task.Target.Keyword); err != nil {
		if b.bus != nil {
			b.bus.Log("debug", "content rejected", map[string]any{
				"taskId":   task.ID,
				"category": b.category,
				"reason":   err.Error(),
			})
		}
		return model.TaskResult{Status: string(provider.StatusFailed), Content: content.Body, Detail: err.Error()}, err
	}

	render(&task, content)
	out, err := b.pub.Publish(ctx, provider.PublishRequest{
		Category:    b.category,
		Destination: task.Target.URL,
		Identity:    model.Identity(task.Target.Identity),
		Payload:     task.Payload,
	})
	if err != nil {
		return model.TaskResult{}, fmt.Errorf("publish: %w", err)
	}

	res := model.TaskResult{
		Status:  string(out.Status),
		URL:     out.URL,
		Detail:  out.Detail,
		Content: task.Payload.Content(),
	}
	switch err := out.Err(); {
	case err == nil:
		b.checker.remember(content.Body)
		return res, nil
	case errors.Is(err, provider.ErrModeration):
		b.checker.remember(content.Body)
		if res.Detail == "" {
			res.Detail = "pending moderation"
		}
		return res, nil
	default:
		return res, err
	}
}

// normalizeTarget accepts "host/path" or a full URL and returns an absolute http(s) URL.
func normalizeTarget(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty target")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid target %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid target %q: unsupported scheme", raw)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid target %q: missing host", raw)
	}
	return u.String(), nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func pickString(list []string, n int) string {
	if len(list) == 0 {
		return ""
	}
	if n < 0 {
		n = -n
	}
	return strings.TrimSpace(list[n%len(list)])
}

func clampPriority(p int) int {
	if p < model.MinPriority {
		return model.MinPriority
	}
	if p > model.MaxPriority {
		return model.MaxPriority
	}
	return p
}

package engine

import (
	"context"
	"fmt"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

// ArticlePost publishes full articles on publishing platforms. Each target is a platform.
type ArticlePost struct {
	base
}

func NewArticlePost(deps Deps, settings config.EngineSettings) *ArticlePost {
	return &ArticlePost{base: newBase(model.CategoryArticlePost, deps, settings)}
}

// GenerateTasks emits one task per platform. The platform tier comes from the option
// "tier.<host>" or, failing that, "tier".
func (e *ArticlePost) GenerateTasks(campaignID string, cfg model.CampaignConfig) ([]model.Task, error) {
	opts, ok := e.options(cfg)
	if !ok {
		return nil, nil
	}
	var out []model.Task
	for i, raw := range opts.Targets {
		target, err := normalizeTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.category, err)
		}
		host := hostOf(target)
		tier := opts.Options["tier."+host]
		if tier == "" {
			tier = opts.Options["tier"]
		}
		t := e.newTask(campaignID, cfg, target, i, tierPriority(tier, opts.Priority))
		t.Payload.ArticlePost = &model.ArticlePostPayload{Platform: host, Tier: tier}
		out = append(out, t)
	}
	return out, nil
}

func tierPriority(tier string, override int) int {
	if override > 0 {
		return override
	}
	switch tier {
	case "tier1":
		return 2
	case "tier2":
		return 4
	}
	return model.DefaultPriority
}

func (e *ArticlePost) Attempt(ctx context.Context, task model.Task) (model.TaskResult, error) {
	return e.attempt(ctx, task, "article", func(t *model.Task, c provider.Content) {
		p := model.ArticlePostPayload{}
		if t.Payload.ArticlePost != nil {
			p = *t.Payload.ArticlePost
		}
		p.Title = c.Title
		if p.Title == "" {
			p.Title = t.Target.Keyword
		}
		p.Body = c.Body
		p.Tags = append([]string(nil), c.Tags...)
		t.Payload.ArticlePost = &p
	})
}

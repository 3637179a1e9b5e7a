package engine

import (
	"context"
	"fmt"
	"strings"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

const socialPriority = 3

type SocialMedia struct {
	base
}

func NewSocialMedia(deps Deps, settings config.EngineSettings) *SocialMedia {
	return &SocialMedia{base: newBase(model.CategorySocialMedia, deps, settings)}
}

func (e *SocialMedia) GenerateTasks(campaignID string, cfg model.CampaignConfig) ([]model.Task, error) {
	opts, ok := e.options(cfg)
	if !ok {
		return nil, nil
	}
	priority := socialPriority
	if opts.Priority > 0 {
		priority = opts.Priority
	}
	slots := e.perTarget(opts)
	var out []model.Task
	for i, raw := range opts.Targets {
		target, err := normalizeTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.category, err)
		}
		for s := 0; s < slots; s++ {
			t := e.newTask(campaignID, cfg, target, i*slots+s, priority)
			t.Payload.Social = &model.SocialPayload{Platform: hostOf(target)}
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *SocialMedia) Attempt(ctx context.Context, task model.Task) (model.TaskResult, error) {
	return e.attempt(ctx, task, "social", func(t *model.Task, c provider.Content) {
		p := model.SocialPayload{}
		if t.Payload.Social != nil {
			p = *t.Payload.Social
		}
		p.Message = c.Body
		p.Hashtags = nil
		for _, tag := range c.Tags {
			tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
			if tag != "" {
				p.Hashtags = append(p.Hashtags, "#"+tag)
			}
		}
		t.Payload.Social = &p
	})
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

const (
	forumPriority       = 4
	activeForumPriority = 3
	activePrefix        = "active:"
)

// Forum replies in forum threads. Targets prefixed with "active:" are busy threads and are
// scheduled ahead of the rest.
type Forum struct {
	base
}

func NewForum(deps Deps, settings config.EngineSettings) *Forum {
	return &Forum{base: newBase(model.CategoryForum, deps, settings)}
}

func (e *Forum) GenerateTasks(campaignID string, cfg model.CampaignConfig) ([]model.Task, error) {
	opts, ok := e.options(cfg)
	if !ok {
		return nil, nil
	}
	slots := e.perTarget(opts)
	var out []model.Task
	for i, raw := range opts.Targets {
		raw = strings.TrimSpace(raw)
		priority := forumPriority
		if strings.HasPrefix(raw, activePrefix) {
			raw = strings.TrimPrefix(raw, activePrefix)
			priority = activeForumPriority
		}
		if opts.Priority > 0 {
			priority = opts.Priority
		}
		target, err := normalizeTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.category, err)
		}
		for s := 0; s < slots; s++ {
			t := e.newTask(campaignID, cfg, target, i*slots+s, priority)
			t.Payload.Forum = &model.ForumPayload{Forum: hostOf(target), Thread: target}
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Forum) Attempt(ctx context.Context, task model.Task) (model.TaskResult, error) {
	return e.attempt(ctx, task, "reply", func(t *model.Task, c provider.Content) {
		p := model.ForumPayload{}
		if t.Payload.Forum != nil {
			p = *t.Payload.Forum
		}
		p.Subject = "Re: " + t.Target.Keyword
		if c.Title != "" {
			p.Subject = "Re: " + c.Title
		}
		p.Reply = c.Body
		t.Payload.Forum = &p
	})
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

// BlogComment leaves comments on blog posts. Each target is a post URL.
type BlogComment struct {
	base
}

func NewBlogComment(deps Deps, settings config.EngineSettings) *BlogComment {
	return &BlogComment{base: newBase(model.CategoryBlogComment, deps, settings)}
}

func (e *BlogComment) GenerateTasks(campaignID string, cfg model.CampaignConfig) ([]model.Task, error) {
	opts, ok := e.options(cfg)
	if !ok {
		return nil, nil
	}
	slots := e.perTarget(opts)
	var out []model.Task
	for i, raw := range opts.Targets {
		target, err := normalizeTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.category, err)
		}
		priority := blogPriority(target, opts.Priority)
		for s := 0; s < slots; s++ {
			t := e.newTask(campaignID, cfg, target, i*slots+s, priority)
			t.Payload.BlogComment = &model.BlogCommentPayload{
				AuthorName:  opts.Options["authorName"],
				AuthorEmail: opts.Options["authorEmail"],
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// blogPriority favours high-authority domains and https.
func blogPriority(target string, override int) int {
	if override > 0 {
		return override
	}
	host := hostOf(target)
	p := model.DefaultPriority
	switch {
	case strings.HasSuffix(host, ".edu"), strings.HasSuffix(host, ".gov"):
		p = 2
	case strings.HasSuffix(host, ".org"):
		p = 4
	}
	if strings.HasPrefix(target, "https://") {
		p--
	}
	return clampPriority(p)
}

func (e *BlogComment) Attempt(ctx context.Context, task model.Task) (model.TaskResult, error) {
	return e.attempt(ctx, task, "comment", func(t *model.Task, c provider.Content) {
		p := model.BlogCommentPayload{}
		if t.Payload.BlogComment != nil {
			p = *t.Payload.BlogComment
		}
		if p.AuthorName == "" {
			p.AuthorName = t.Target.AnchorText
		}
		p.Comment = c.Body
		t.Payload.BlogComment = &p
	})
}

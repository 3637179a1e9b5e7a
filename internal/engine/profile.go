package engine

import (
	"context"
	"fmt"
	"strings"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
	"outreach_engine/internal/provider"
)

const profilePriority = 6

// Profile registers profiles that link back to the campaign site. Each target is a platform
// and gets exactly one profile.
type Profile struct {
	base
}

func NewProfile(deps Deps, settings config.EngineSettings) *Profile {
	return &Profile{base: newBase(model.CategoryProfile, deps, settings)}
}

func (e *Profile) GenerateTasks(campaignID string, cfg model.CampaignConfig) ([]model.Task, error) {
	opts, ok := e.options(cfg)
	if !ok {
		return nil, nil
	}
	priority := profilePriority
	if opts.Priority > 0 {
		priority = opts.Priority
	}
	var out []model.Task
	for i, raw := range opts.Targets {
		target, err := normalizeTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.category, err)
		}
		t := e.newTask(campaignID, cfg, target, i, priority)
		username := opts.Options["username"]
		if username == "" {
			username = slug(t.Target.Keyword)
		}
		t.Payload.Profile = &model.ProfilePayload{
			Platform: hostOf(target),
			Username: username,
			Website:  cfg.LinkURL,
		}
		out = append(out, t)
	}
	return out, nil
}

func (e *Profile) Attempt(ctx context.Context, task model.Task) (model.TaskResult, error) {
	return e.attempt(ctx, task, "bio", func(t *model.Task, c provider.Content) {
		p := model.ProfilePayload{}
		if t.Payload.Profile != nil {
			p = *t.Payload.Profile
		}
		p.Bio = c.Body
		if p.Website == "" {
			p.Website = t.Target.LinkURL
		}
		t.Payload.Profile = &p
	})
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "writer"
	}
	return out
}

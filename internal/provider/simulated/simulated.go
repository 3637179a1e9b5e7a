package simulated

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"sync"

	"outreach_engine/internal/provider"
)

// Generator writes template content without calling anything.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Name() string { return "simulated" }

func (g *Generator) Generate(ctx context.Context, req provider.GenerateRequest) (provider.Content, error) {
	if err := ctx.Err(); err != nil {
		return provider.Content{}, err
	}
	kw := strings.TrimSpace(req.Keyword)
	if kw == "" {
		kw = "this topic"
	}
	anchor := strings.TrimSpace(req.AnchorText)
	if anchor == "" {
		anchor = kw
	}
	opener := openers[pick(req.TargetURL+req.Kind, len(openers))]

	var body string
	switch req.Kind {
	case "title":
		return provider.Content{Title: fmt.Sprintf("A practical guide to %s", kw), Body: fmt.Sprintf("A practical guide to %s", kw)}, nil
	case "bio":
		body = fmt.Sprintf("Writing about %s and related tools. More at %s.", kw, anchor)
	case "social":
		body = fmt.Sprintf("%s %s is worth a look: %s", opener, kw, anchor)
	default:
		body = fmt.Sprintf("%s I have been reading about %s for a while and this post on %s adds a useful angle. "+
			"There is a longer write-up under %s if anyone wants more detail.", opener, kw, hostOf(req.TargetURL), anchor)
	}
	return provider.Content{
		Title: fmt.Sprintf("Notes on %s", kw),
		Body:  body,
		Tags:  []string{strings.ReplaceAll(strings.ToLower(kw), " ", "")},
	}, nil
}

var openers = []string{
	"Great post.",
	"Thanks for sharing this.",
	"Interesting read.",
	"Good points here.",
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "this site"
	}
	return u.Hostname()
}

func pick(seed string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int(h.Sum32() % uint32(n))
}

// Publisher decides outcomes from markers in the destination URL: "captcha", "moderat" and
// "fail" map to the matching status, anything else is posted. Script overrides the rule.
type Publisher struct {
	Script func(req provider.PublishRequest) (provider.Outcome, error)

	mu    sync.Mutex
	calls []provider.PublishRequest
}

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) Name() string { return "simulated" }

func (p *Publisher) Publish(ctx context.Context, req provider.PublishRequest) (provider.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return provider.Outcome{}, err
	}
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.Script != nil {
		return p.Script(req)
	}
	dest := strings.ToLower(req.Destination)
	switch {
	case strings.Contains(dest, "captcha"):
		return provider.Outcome{Status: provider.StatusCaptcha, Detail: "challenge shown"}, nil
	case strings.Contains(dest, "moderat"):
		return provider.Outcome{Status: provider.StatusModeration, Detail: "held for review"}, nil
	case strings.Contains(dest, "fail"):
		return provider.Outcome{Status: provider.StatusFailed, Detail: "submission rejected"}, nil
	}
	return provider.Outcome{
		Status: provider.StatusPosted,
		URL:    fmt.Sprintf("%s#sim-%08x", req.Destination, pick(req.Destination+req.Payload.Content(), 1<<30)),
	}, nil
}

// Calls returns the requests seen so far.
func (p *Publisher) Calls() []provider.PublishRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.PublishRequest(nil), p.calls...)
}

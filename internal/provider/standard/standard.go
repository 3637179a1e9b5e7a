package standard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"outreach_engine/internal/config"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/provider"
	"outreach_engine/internal/utils"
)

type apiEnvelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

func (e apiEnvelope[T]) errorMessage(fallback string) string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

type limiterSet struct {
	mu     sync.Mutex
	qps    float64
	burst  int
	global *rate.Limiter
	per    map[string]*rate.Limiter
}

func newLimiterSet(qps float64, burst int) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	l := &limiterSet{qps: qps, burst: burst, per: make(map[string]*rate.Limiter)}
	if qps > 0 {
		l.global = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return l
}

// wait blocks on the shared limiter and then on the limiter of key, if any.
func (l *limiterSet) wait(ctx context.Context, key string) error {
	if l.global == nil {
		return nil
	}
	if err := l.global.Wait(ctx); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.per[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.qps), l.burst)
		l.per[key] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// Publisher submits rendered payloads to an upstream publishing service.
type Publisher struct {
	cfg      config.PublisherConfig
	bus      *logbus.Bus
	limiters *limiterSet
}

func NewPublisher(cfg config.PublisherConfig, bus *logbus.Bus) *Publisher {
	return &Publisher{
		cfg:      cfg,
		bus:      bus,
		limiters: newLimiterSet(cfg.QPS, cfg.Burst),
	}
}

func (p *Publisher) Name() string { return "standard" }

type publishResp struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (p *Publisher) Publish(ctx context.Context, req provider.PublishRequest) (provider.Outcome, error) {
	if strings.TrimSpace(req.Destination) == "" {
		return provider.Outcome{}, errors.New("destination is required")
	}
	if err := p.limiters.wait(ctx, req.Identity.Key()); err != nil {
		return provider.Outcome{}, err
	}

	client := p.newClient(req.Identity.ProxyURL())
	var resp apiEnvelope[publishResp]
	r, err := client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post("/publish")
	if err != nil {
		return provider.Outcome{}, err
	}
	if r.StatusCode() >= 500 {
		return provider.Outcome{}, fmt.Errorf("publish: upstream status %d", r.StatusCode())
	}
	if !resp.Success {
		return provider.Outcome{Status: provider.StatusFailed, Detail: resp.errorMessage("publish failed")}, nil
	}
	return provider.Outcome{
		Status: provider.ParseStatus(resp.Data.Status),
		URL:    resp.Data.URL,
		Detail: resp.Data.Detail,
	}, nil
}

func (p *Publisher) newClient(proxy string) *resty.Client {
	client := newRestyClient(p.cfg.BaseURL, p.cfg.Timeout(), p.cfg.Retry, p.bus)
	if proxy != "" {
		client.SetProxy(proxy)
	}
	client.SetHeader("User-Agent", utils.NormalizeUserAgent(p.cfg.UserAgent))
	return client
}

// Generator asks an upstream content service for text.
type Generator struct {
	cfg      config.GeneratorConfig
	bus      *logbus.Bus
	limiters *limiterSet
	client   *resty.Client
}

func NewGenerator(cfg config.GeneratorConfig, bus *logbus.Bus) *Generator {
	client := newRestyClient(cfg.BaseURL, cfg.Timeout(), cfg.Retry, bus)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Generator{
		cfg:      cfg,
		bus:      bus,
		limiters: newLimiterSet(cfg.QPS, cfg.Burst),
		client:   client,
	}
}

func (g *Generator) Name() string { return "standard" }

type generateReq struct {
	provider.GenerateRequest
	Model string `json:"model,omitempty"`
}

func (g *Generator) Generate(ctx context.Context, req provider.GenerateRequest) (provider.Content, error) {
	if err := g.limiters.wait(ctx, ""); err != nil {
		return provider.Content{}, err
	}
	var resp apiEnvelope[provider.Content]
	r, err := g.client.R().
		SetContext(ctx).
		SetBody(generateReq{GenerateRequest: req, Model: g.cfg.Model}).
		SetResult(&resp).
		SetError(&resp).
		Post("/generate")
	if err != nil {
		return provider.Content{}, err
	}
	if !resp.Success {
		return provider.Content{}, fmt.Errorf("generate: %s (status %d)", resp.errorMessage("generation failed"), r.StatusCode())
	}
	if strings.TrimSpace(resp.Data.Body) == "" {
		return provider.Content{}, errors.New("generate: empty content")
	}
	return resp.Data, nil
}

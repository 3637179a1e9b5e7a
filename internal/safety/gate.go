package safety

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
)

const (
	window    = 24 * time.Hour
	hourLimit = time.Hour

	ScopeGlobal = "global"
)

type Limits struct {
	PerHour int
	PerDay  int
}

func (l Limits) unlimited() bool { return l.PerHour <= 0 && l.PerDay <= 0 }

type Settings struct {
	Global     Limits
	Identity   Limits
	Site       Limits
	Engine     Limits
	MinSiteGap time.Duration
	RedFlags   []string
	Blacklist  []string
}

func SettingsFromConfig(c config.SafetyConfig) Settings {
	return Settings{
		Global:     Limits{PerHour: c.Global.ActionsPerHour, PerDay: c.Global.ActionsPerDay},
		Identity:   Limits{PerHour: c.Identity.ActionsPerHour, PerDay: c.Identity.ActionsPerDay},
		Site:       Limits{PerHour: c.Site.ActionsPerHour, PerDay: c.Site.ActionsPerDay},
		Engine:     Limits{PerHour: c.Engine.ActionsPerHour, PerDay: c.Engine.ActionsPerDay},
		MinSiteGap: c.MinSiteGap(),
		RedFlags:   append([]string(nil), c.RedFlags...),
		Blacklist:  append([]string(nil), c.Blacklist...),
	}
}

// Decision is the outcome of a per-task check. Scope names the bucket that denied, if any.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Scope   string `json:"scope,omitempty"`
}

type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// Gate decides whether a task may run now and records dispatched attempts.
type Gate struct {
	mu         sync.Mutex
	settings   Settings
	redFlags   []string
	buckets    map[string][]time.Time
	lastAction map[string]time.Time
	blacklist  map[string]struct{}
	now        func() time.Time
}

func New(settings Settings, opts ...Option) *Gate {
	g := &Gate{
		settings:   settings,
		buckets:    make(map[string][]time.Time),
		lastAction: make(map[string]time.Time),
		blacklist:  make(map[string]struct{}),
		now:        time.Now,
	}
	for _, f := range settings.RedFlags {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			g.redFlags = append(g.redFlags, f)
		}
	}
	for _, d := range settings.Blacklist {
		if n := NormalizeDomain(d); n != "" {
			g.blacklist[n] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// CanProcess reports whether task may execute now. It never mutates state.
func (g *Gate) CanProcess(task model.Task) bool {
	return g.Check(task).Allowed
}

// Check evaluates, in order: global, identity, site and engine ceilings, the blacklist,
// the minimum gap per destination, and red-flag patterns. Any evaluation error denies.
func (g *Gate) Check(task model.Task) Decision {
	return g.evaluate(task, false)
}

// Admit is Check followed by Record under a single lock hold, so concurrent callers cannot
// all pass a ceiling only one of them fits under. Denied tasks are not recorded.
func (g *Gate) Admit(task model.Task) Decision {
	return g.evaluate(task, true)
}

func (g *Gate) evaluate(task model.Task, record bool) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = deny("", fmt.Sprintf("safety evaluation error: %v", r))
		}
	}()

	domain, err := TaskDomain(task)
	if err != nil {
		return deny("", "invalid destination: "+err.Error())
	}
	identity := model.Identity(task.Target.Identity).Key()

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	d = g.checkLocked(task, domain, identity, now)
	if d.Allowed && record {
		g.recordLocked(task, domain, identity, now)
	}
	return d
}

func (g *Gate) checkLocked(task model.Task, domain, identity string, now time.Time) Decision {
	if d, ok := g.checkScopeLocked(ScopeGlobal, g.settings.Global, now); !ok {
		return d
	}
	if identity != "" {
		if d, ok := g.checkScopeLocked(IdentityScope(identity), g.settings.Identity, now); !ok {
			return d
		}
	}
	if domain != "" {
		if d, ok := g.checkScopeLocked(SiteScope(domain), g.settings.Site, now); !ok {
			return d
		}
	}
	if !g.settings.Engine.unlimited() {
		if d, ok := g.checkScopeLocked(EngineScope(task.Category), g.settings.Engine, now); !ok {
			return d
		}
	}
	if domain != "" && g.isBlacklistedLocked(domain) {
		return deny(SiteScope(domain), "destination is blacklisted: "+domain)
	}
	if domain != "" && g.settings.MinSiteGap > 0 {
		if last, ok := g.lastAction[domain]; ok {
			if elapsed := now.Sub(last); elapsed < g.settings.MinSiteGap {
				return deny(SiteScope(domain), fmt.Sprintf("minimum delay not met for %s (%s < %s)",
					domain, elapsed.Truncate(time.Second), g.settings.MinSiteGap))
			}
		}
	}
	if flag, hit := g.matchRedFlag(task); hit {
		return deny("", "red flag pattern: "+flag)
	}
	return Decision{Allowed: true}
}

// Record notes one dispatched attempt against every applicable scope.
func (g *Gate) Record(task model.Task) {
	domain, _ := TaskDomain(task)
	identity := model.Identity(task.Target.Identity).Key()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.recordLocked(task, domain, identity, g.now())
}

func (g *Gate) recordLocked(task model.Task, domain, identity string, now time.Time) {
	g.appendLocked(ScopeGlobal, now)
	if identity != "" {
		g.appendLocked(IdentityScope(identity), now)
	}
	if domain != "" {
		g.appendLocked(SiteScope(domain), now)
		g.lastAction[domain] = now
	}
	if task.Category != "" {
		g.appendLocked(EngineScope(task.Category), now)
	}
}

// Usage reports hour/day counts for every scope seen so far.
func (g *Gate) Usage() []model.ScopeUsage {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	out := make([]model.ScopeUsage, 0, len(g.buckets))
	for scope, ts := range g.buckets {
		hour, day := countWindow(ts, now)
		l := g.limitsForLocked(scope)
		u := model.ScopeUsage{
			Scope:    scope,
			LastHour: hour,
			LastDay:  day,
			PerHour:  l.PerHour,
			PerDay:   l.PerDay,
		}
		if len(ts) > 0 {
			u.LastAtMs = ts[len(ts)-1].UnixMilli()
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

func (g *Gate) limitsForLocked(scope string) Limits {
	switch {
	case scope == ScopeGlobal:
		return g.settings.Global
	case strings.HasPrefix(scope, "ip:"):
		return g.settings.Identity
	case strings.HasPrefix(scope, "site:"):
		return g.settings.Site
	case strings.HasPrefix(scope, "engine:"):
		return g.settings.Engine
	}
	return Limits{}
}

func (g *Gate) checkScopeLocked(scope string, l Limits, now time.Time) (Decision, bool) {
	if l.unlimited() {
		return Decision{}, true
	}
	hour, day := countWindow(g.buckets[scope], now)
	if l.PerHour > 0 && hour >= l.PerHour {
		return deny(scope, fmt.Sprintf("hourly limit reached for %s (%d/%d)", scope, hour, l.PerHour)), false
	}
	if l.PerDay > 0 && day >= l.PerDay {
		return deny(scope, fmt.Sprintf("daily limit reached for %s (%d/%d)", scope, day, l.PerDay)), false
	}
	return Decision{}, true
}

// appendLocked prunes the bucket to the trailing window and appends now.
func (g *Gate) appendLocked(scope string, now time.Time) {
	ts := g.buckets[scope]
	cutoff := now.Add(-window)
	i := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
	}
	g.buckets[scope] = append(ts, now)
}

// matchRedFlag scans the destination and the inputs generation is seeded with (keyword,
// anchor text, link). Rendered bodies are only present on pre-rendered payloads; generated
// content is checked by the engine's own spam heuristics after rendering.
func (g *Gate) matchRedFlag(task model.Task) (string, bool) {
	if len(g.redFlags) == 0 {
		return "", false
	}
	hay := strings.ToLower(strings.Join([]string{
		task.Target.URL,
		task.Target.LinkURL,
		task.Target.Keyword,
		task.Target.AnchorText,
		task.Payload.Content(),
	}, "\n"))
	for _, f := range g.redFlags {
		if strings.Contains(hay, f) {
			return f, true
		}
	}
	return "", false
}

func countWindow(ts []time.Time, now time.Time) (hour, day int) {
	hourCutoff := now.Add(-hourLimit)
	dayCutoff := now.Add(-window)
	for _, t := range ts {
		if t.After(dayCutoff) {
			day++
			if t.After(hourCutoff) {
				hour++
			}
		}
	}
	return hour, day
}

func deny(scope, reason string) Decision {
	return Decision{Allowed: false, Reason: reason, Scope: scope}
}

func IdentityScope(key string) string       { return "ip:" + key }
func SiteScope(domain string) string        { return "site:" + domain }
func EngineScope(cat model.Category) string { return "engine:" + string(cat) }

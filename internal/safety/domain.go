package safety

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"outreach_engine/internal/model"
)

// NormalizeDomain reduces a URL or host to a lower-case host without port, trailing dot or
// leading "www.". It returns "" when nothing usable remains.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Hostname()
	} else {
		// tagged targets such as "active:forum.example/t/1"
		if tag, rest, ok := strings.Cut(s, ":"); ok && rest != "" && !strings.ContainsAny(tag, "./") && (rest[0] < '0' || rest[0] > '9') {
			s = rest
		}
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		if h, _, ok := strings.Cut(s, ":"); ok {
			s = h
		}
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "www.")
	return s
}

// TaskDomain returns the destination domain of task, or "" when it has no destination.
func TaskDomain(task model.Task) (string, error) {
	if d := NormalizeDomain(task.Target.Domain); d != "" {
		return d, nil
	}
	raw := strings.TrimSpace(task.Target.URL)
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	d := NormalizeDomain(u.Hostname())
	if d == "" {
		return "", errors.New("destination has no host")
	}
	return d, nil
}

func (g *Gate) AddBlacklistedDomain(domain string) error {
	d := NormalizeDomain(domain)
	if d == "" {
		return errors.New("domain is required")
	}
	g.mu.Lock()
	g.blacklist[d] = struct{}{}
	g.mu.Unlock()
	return nil
}

// RemoveBlacklistedDomain reports whether the domain was present.
func (g *Gate) RemoveBlacklistedDomain(domain string) bool {
	d := NormalizeDomain(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.blacklist[d]; !ok {
		return false
	}
	delete(g.blacklist, d)
	return true
}

func (g *Gate) IsBlacklisted(domain string) bool {
	d := NormalizeDomain(domain)
	if d == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isBlacklistedLocked(d)
}

func (g *Gate) Blacklist() []string {
	g.mu.Lock()
	out := make([]string, 0, len(g.blacklist))
	for d := range g.blacklist {
		out = append(out, d)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

// isBlacklistedLocked matches the domain itself and every parent domain.
func (g *Gate) isBlacklistedLocked(domain string) bool {
	for d := domain; d != ""; {
		if _, ok := g.blacklist[d]; ok {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}

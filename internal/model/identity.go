package model

import (
	"net/url"
	"strings"
)

// Identity is the source an action originates from: a bare IP address or a proxy URL.
type Identity string

func (i Identity) String() string { return strings.TrimSpace(string(i)) }

// ProxyURL returns the proxy to route through, or "" when the identity is a bare address.
func (i Identity) ProxyURL() string {
	s := i.String()
	if !strings.Contains(s, "://") {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	return s
}

// Key returns the host part used for rate-limit scoping.
func (i Identity) Key() string {
	s := i.String()
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	return strings.ToLower(s)
}

package utils

import "strings"

const defaultBrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

func DefaultUserAgent() string {
	return defaultBrowserUserAgent
}

// NormalizeUserAgent returns ua when it looks like a real browser, otherwise the default.
// Destination sites tend to reject library user agents outright.
func NormalizeUserAgent(ua string) string {
	v := strings.TrimSpace(ua)
	if v == "" {
		return defaultBrowserUserAgent
	}
	if looksLikeBrowserUA(v) {
		return v
	}
	return defaultBrowserUserAgent
}

func looksLikeBrowserUA(ua string) bool {
	s := strings.ToLower(ua)
	if !strings.HasPrefix(s, "mozilla/") {
		return false
	}
	for _, marker := range []string{"chrome/", "firefox/", "safari/", "edg/"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

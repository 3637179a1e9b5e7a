package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

var (
	ErrEmptyContent     = errors.New("generated content is empty")
	ErrLowQuality       = errors.New("generated content scored too low")
	ErrSpamContent      = errors.New("generated content looks like spam")
	ErrDuplicateContent = errors.New("generated content duplicates an earlier post")
)

const minContentScore = 0.3

var spamPhrases = []string{
	"buy now",
	"click here",
	"free money",
	"100% guaranteed",
	"limited offer",
	"act now",
	"work from home",
}

type contentChecker struct {
	spamCheck      bool
	duplicateCheck bool

	mu   sync.Mutex
	seen map[uint64]struct{}
}

func newContentChecker(spamCheck, duplicateCheck bool) *contentChecker {
	return &contentChecker{
		spamCheck:      spamCheck,
		duplicateCheck: duplicateCheck,
		seen:           make(map[uint64]struct{}),
	}
}

func (c *contentChecker) check(text, keyword string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	if score := Score(text, keyword); score < minContentScore {
		return fmt.Errorf("%w (%.2f)", ErrLowQuality, score)
	}
	if c.spamCheck && LooksSpammy(text) {
		return ErrSpamContent
	}
	if c.duplicateCheck {
		c.mu.Lock()
		_, dup := c.seen[fingerprint(text)]
		c.mu.Unlock()
		if dup {
			return ErrDuplicateContent
		}
	}
	return nil
}

// remember records text as published so later duplicates are caught.
func (c *contentChecker) remember(text string) {
	if !c.duplicateCheck {
		return
	}
	c.mu.Lock()
	c.seen[fingerprint(text)] = struct{}{}
	c.mu.Unlock()
}

// Score rates text between 0 and 1 from simple signals: length, keyword presence, link
// count, shouting and exclamation marks.
func Score(text, keyword string) float64 {
	words := strings.Fields(text)
	score := 0.5

	switch n := len(words); {
	case n < 5:
		score -= 0.3
	case n >= 15 && n <= 150:
		score += 0.2
	case n > 300:
		score -= 0.1
	}

	if kw := strings.ToLower(strings.TrimSpace(keyword)); kw != "" && strings.Contains(strings.ToLower(text), kw) {
		score += 0.15
	}
	if strings.Count(strings.ToLower(text), "http") > 2 {
		score -= 0.3
	}

	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 20 && float64(upper)/float64(letters) > 0.5 {
		score -= 0.3
	}
	if strings.Count(text, "!") > 3 {
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// LooksSpammy flags known spam phrases and text dominated by one repeated word.
func LooksSpammy(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range spamPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	if len(words) < 8 {
		return false
	}
	counts := make(map[string]int)
	for _, w := range words {
		if len(w) > 3 {
			counts[w]++
		}
	}
	for _, n := range counts {
		if float64(n)/float64(len(words)) > 0.3 {
			return true
		}
	}
	return false
}

func fingerprint(text string) uint64 {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.String()))
	return h.Sum64()
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"outreach_engine/internal/model"
)

type Status string

const (
	StatusPosted     Status = "posted"
	StatusModeration Status = "moderation"
	StatusCaptcha    Status = "captcha"
	StatusFailed     Status = "failed"
)

var (
	ErrCaptcha    = errors.New("captcha challenge")
	ErrModeration = errors.New("pending moderation")
)

// ParseStatus maps the status strings upstream services report onto the known set.
// Anything unrecognised is a failure.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "posted", "published", "live", "success":
		return StatusPosted
	case "moderation", "pending", "moderation/pending", "held":
		return StatusModeration
	case "captcha":
		return StatusCaptcha
	}
	return StatusFailed
}

type GenerateRequest struct {
	Category   model.Category `json:"category"`
	Kind       string         `json:"kind"`
	Keyword    string         `json:"keyword"`
	AnchorText string         `json:"anchorText"`
	TargetURL  string         `json:"targetUrl"`
	LinkURL    string         `json:"linkUrl,omitempty"`
	MaxWords   int            `json:"maxWords,omitempty"`
}

type Content struct {
	Title string   `json:"title,omitempty"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

type PublishRequest struct {
	Category    model.Category `json:"category"`
	Destination string         `json:"destination"`
	Identity    model.Identity `json:"-"`
	Payload     model.Payload  `json:"payload"`
}

type Outcome struct {
	Status Status `json:"status"`
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Err classifies the outcome. Posted is nil; moderation wraps ErrModeration and captcha
// wraps ErrCaptcha so callers can tell them apart with errors.Is.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusPosted:
		return nil
	case StatusModeration:
		return wrapDetail(ErrModeration, o.Detail)
	case StatusCaptcha:
		return wrapDetail(ErrCaptcha, o.Detail)
	}
	if o.Detail != "" {
		return errors.New(o.Detail)
	}
	return errors.New("publish failed")
}

func wrapDetail(err error, detail string) error {
	if detail == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, detail)
}

// Generator produces content for a keyword/anchor/target triple.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (Content, error)
}

// Publisher performs the web action against a destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, req PublishRequest) (Outcome, error)
}

package model

import "time"

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type EngineOptions struct {
	Enabled         bool              `json:"enabled" yaml:"enabled"`
	Targets         []string          `json:"targets" yaml:"targets"`
	BatchSize       int               `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`
	MinDelaySeconds int               `json:"minDelaySeconds,omitempty" yaml:"minDelaySeconds,omitempty"`
	MaxDelaySeconds int               `json:"maxDelaySeconds,omitempty" yaml:"maxDelaySeconds,omitempty"`
	PerTargetCap    int               `json:"perTargetCap,omitempty" yaml:"perTargetCap,omitempty"`
	Priority        int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	Options         map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

type CampaignConfig struct {
	Name        string                     `json:"name" yaml:"name"`
	Keywords    []string                   `json:"keywords" yaml:"keywords"`
	AnchorTexts []string                   `json:"anchorTexts,omitempty" yaml:"anchorTexts,omitempty"`
	LinkURL     string                     `json:"linkUrl" yaml:"linkUrl"`
	Identities  []string                   `json:"identities,omitempty" yaml:"identities,omitempty"`
	Engines     map[Category]EngineOptions `json:"engines" yaml:"engines"`
}

// EnabledCategories returns enabled engines in processing order.
func (c CampaignConfig) EnabledCategories() []Category {
	var out []Category
	for _, cat := range AllCategories() {
		if opts, ok := c.Engines[cat]; ok && opts.Enabled {
			out = append(out, cat)
		}
	}
	return out
}

type CampaignCounters struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type Campaign struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	Status      CampaignStatus   `json:"status"`
	Config      CampaignConfig   `json:"config"`
	Counters    CampaignCounters `json:"counters"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	CompletedAt time.Time        `json:"completedAt,omitempty"`
}

type CampaignState struct {
	CampaignID string           `json:"campaignId"`
	Status     CampaignStatus   `json:"status"`
	Counters   CampaignCounters `json:"counters"`
	AtMs       int64            `json:"atMs"`
}

// TaskOutcome is the persisted record of one finished attempt.
type TaskOutcome struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	CampaignID string     `json:"campaignId"`
	Category   Category   `json:"category"`
	Status     TaskStatus `json:"status"`
	Domain     string     `json:"domain,omitempty"`
	URL        string     `json:"url,omitempty"`
	RetryCount int        `json:"retryCount"`
	Detail     string     `json:"detail,omitempty"`
	AtMs       int64      `json:"atMs"`
}

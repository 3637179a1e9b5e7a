package notify

import (
	"context"

	"outreach_engine/internal/model"
)

const (
	KindCampaignFinished = "campaign_finished"
	KindTaskFailed       = "task_failed"
)

type Event struct {
	Kind         string                 `json:"kind"`
	AtMs         int64                  `json:"atMs"`
	CampaignID   string                 `json:"campaignId,omitempty"`
	CampaignName string                 `json:"campaignName,omitempty"`
	Counters     model.CampaignCounters `json:"counters,omitempty"`
	TaskID       string                 `json:"taskId,omitempty"`
	Category     model.Category         `json:"category,omitempty"`
	Target       string                 `json:"target,omitempty"`
	Error        string                 `json:"error,omitempty"`
	RetryCount   int                    `json:"retryCount,omitempty"`
}

// Notifier is fire-and-forget: implementations must not block the caller.
type Notifier interface {
	NotifyCampaignFinished(ctx context.Context, c model.Campaign)
	NotifyTaskFailed(ctx context.Context, t model.Task)
}

type Nop struct{}

func (Nop) NotifyCampaignFinished(context.Context, model.Campaign) {}
func (Nop) NotifyTaskFailed(context.Context, model.Task)           {}

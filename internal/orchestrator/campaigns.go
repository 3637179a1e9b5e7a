package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach_engine/internal/logbus"
	"outreach_engine/internal/model"
	"outreach_engine/internal/safety"
)

type Stats struct {
	Running   bool                         `json:"running"`
	Queues    model.AllStats               `json:"queues"`
	Campaigns map[model.CampaignStatus]int `json:"campaigns"`
}

// StartCampaign validates cfg, expands it into tasks and enqueues them. Nothing is enqueued
// when validation or the capacity guard fails.
func (o *Orchestrator) StartCampaign(ctx context.Context, cfg model.CampaignConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := o.validateCampaign(cfg); err != nil {
		return "", err
	}
	est, err := o.gate.ValidateCampaign(cfg, o.cfg.PerTargetCap)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	type batch struct {
		cat   model.Category
		tasks []model.Task
	}
	var batches []batch
	total := 0
	for _, cat := range cfg.EnabledCategories() {
		eng, _ := o.engines.Get(cat)
		tasks, err := eng.GenerateTasks(id, cfg)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", safety.ErrInvalidCampaign, cat, err)
		}
		batches = append(batches, batch{cat: cat, tasks: tasks})
		total += len(tasks)
	}
	if total == 0 {
		return "", fmt.Errorf("%w: no tasks generated", safety.ErrInvalidCampaign)
	}

	now := o.now()
	c := &model.Campaign{
		ID:        id,
		Name:      strings.TrimSpace(cfg.Name),
		Status:    model.CampaignActive,
		Config:    cfg,
		Counters:  model.CampaignCounters{Total: total, Pending: total},
		CreatedAt: now,
		UpdatedAt: now,
	}
	// registered first so tasks are dispatchable the moment they land in a queue
	o.campMu.Lock()
	o.campaigns[id] = c
	snapshot := *c
	o.campMu.Unlock()

	for _, b := range batches {
		if _, err := o.queue.EnqueueBatch(b.cat, b.tasks); err != nil {
			o.queue.PurgeCampaign(id)
			o.campMu.Lock()
			delete(o.campaigns, id)
			o.campMu.Unlock()
			return "", fmt.Errorf("enqueue %s: %w", b.cat, err)
		}
	}

	o.publishCampaign(snapshot)
	o.log("info", "campaign started", map[string]any{
		"campaignId": id,
		"name":       snapshot.Name,
		"tasks":      total,
		"estimate":   est.Actions,
		"engines":    cfg.EnabledCategories(),
	})
	return id, nil
}

func (o *Orchestrator) validateCampaign(cfg model.CampaignConfig) error {
	var kw int
	for _, k := range cfg.Keywords {
		if strings.TrimSpace(k) != "" {
			kw++
		}
	}
	if kw == 0 {
		return fmt.Errorf("%w: at least one keyword is required", safety.ErrInvalidCampaign)
	}
	if strings.TrimSpace(cfg.LinkURL) == "" {
		return fmt.Errorf("%w: linkUrl is required", safety.ErrInvalidCampaign)
	}
	cats := cfg.EnabledCategories()
	if len(cats) == 0 {
		return ErrNoEnginesEnabled
	}
	for _, cat := range cats {
		if _, ok := o.engines.Get(cat); !ok {
			return fmt.Errorf("%w: unknown engine %q", safety.ErrInvalidCampaign, cat)
		}
		if !o.cfg.Engine(cat).Enabled {
			return fmt.Errorf("%w: engine %s is disabled in configuration", safety.ErrInvalidCampaign, cat)
		}
		if len(cfg.Engines[cat].Targets) == 0 {
			return fmt.Errorf("%w: engine %s has no targets", safety.ErrInvalidCampaign, cat)
		}
	}
	return nil
}

// PauseCampaign holds the campaign's pending tasks in their queues. Tasks already being
// attempted finish normally.
func (o *Orchestrator) PauseCampaign(id string) error {
	return o.transition(id, func(c *model.Campaign) error {
		switch c.Status {
		case model.CampaignCompleted:
			return ErrCampaignCompleted
		case model.CampaignPaused:
			return nil
		}
		c.Status = model.CampaignPaused
		return nil
	})
}

func (o *Orchestrator) ResumeCampaign(id string) error {
	return o.transition(id, func(c *model.Campaign) error {
		switch c.Status {
		case model.CampaignCompleted:
			return ErrCampaignCompleted
		case model.CampaignActive:
			return nil
		}
		c.Status = model.CampaignActive
		if c.Counters.Pending <= 0 {
			markCompleted(c, o.now())
		}
		return nil
	})
}

func (o *Orchestrator) transition(id string, fn func(c *model.Campaign) error) error {
	o.campMu.Lock()
	c, ok := o.campaigns[id]
	if !ok {
		o.campMu.Unlock()
		return fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	before := c.Status
	if err := fn(c); err != nil {
		o.campMu.Unlock()
		return err
	}
	changed := c.Status != before
	if changed {
		c.UpdatedAt = o.now()
	}
	snapshot := *c
	o.campMu.Unlock()

	if changed {
		o.publishCampaign(snapshot)
		o.log("info", "campaign "+string(snapshot.Status), map[string]any{"campaignId": id})
		if snapshot.Status == model.CampaignCompleted {
			o.emit("notify", func(ctx context.Context) { o.notifier.NotifyCampaignFinished(ctx, snapshot) })
		}
	}
	return nil
}

// DeleteCampaign forgets a paused or completed campaign and drops its pending tasks.
func (o *Orchestrator) DeleteCampaign(id string) error {
	o.campMu.Lock()
	c, ok := o.campaigns[id]
	if !ok {
		o.campMu.Unlock()
		return fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	if c.Status == model.CampaignActive {
		o.campMu.Unlock()
		return ErrCampaignActive
	}
	delete(o.campaigns, id)
	o.campMu.Unlock()

	purged := o.queue.PurgeCampaign(id)
	if o.mirror != nil {
		o.emit("mirror", func(ctx context.Context) {
			if err := o.mirror.DeleteCampaign(ctx, id); err != nil {
				o.log("warn", "mirror delete campaign failed", map[string]any{"campaignId": id, "error": err.Error()})
			}
		})
	}
	o.log("info", "campaign deleted", map[string]any{"campaignId": id, "purged": purged})
	return nil
}

func (o *Orchestrator) Campaign(id string) (model.Campaign, error) {
	o.campMu.RLock()
	defer o.campMu.RUnlock()
	c, ok := o.campaigns[id]
	if !ok {
		return model.Campaign{}, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	return *c, nil
}

// Campaigns returns every known campaign, oldest first.
func (o *Orchestrator) Campaigns() []model.Campaign {
	o.campMu.RLock()
	out := make([]model.Campaign, 0, len(o.campaigns))
	for _, c := range o.campaigns {
		out = append(out, *c)
	}
	o.campMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// afterOutcome folds a task transition into its campaign and fans out side effects.
func (o *Orchestrator) afterOutcome(task model.Task, err error) {
	if err != nil {
		o.log("error", "task state update failed", map[string]any{"error": err.Error()})
		return
	}
	now := o.now()
	domain, _ := safety.TaskDomain(task)

	if o.bus != nil {
		o.bus.Publish(logbus.TypeTaskState, model.TaskState{
			TaskID:     task.ID,
			CampaignID: task.CampaignID,
			Category:   task.Category,
			Status:     task.Status,
			RetryCount: task.RetryCount,
			Domain:     domain,
			LastError:  task.LastError,
			AtMs:       now.UnixMilli(),
		})
	}

	if o.mirror != nil {
		outcome := model.TaskOutcome{
			ID:         uuid.NewString(),
			TaskID:     task.ID,
			CampaignID: task.CampaignID,
			Category:   task.Category,
			Status:     task.Status,
			Domain:     domain,
			RetryCount: task.RetryCount,
			Detail:     task.LastError,
			AtMs:       now.UnixMilli(),
		}
		if task.Result != nil {
			outcome.URL = task.Result.URL
			outcome.Detail = task.Result.Detail
		}
		o.emit("mirror", func(ctx context.Context) {
			if err := o.mirror.InsertTaskOutcome(ctx, outcome); err != nil {
				o.log("warn", "mirror task outcome failed", map[string]any{"taskId": outcome.TaskID, "error": err.Error()})
			}
		})
	}

	if task.Status == model.TaskFailed {
		o.emit("notify", func(ctx context.Context) { o.notifier.NotifyTaskFailed(ctx, task) })
	}

	terminal := task.Status == model.TaskCompleted || task.Status == model.TaskFailed
	if task.CampaignID == "" || !terminal {
		return
	}

	o.campMu.Lock()
	c, ok := o.campaigns[task.CampaignID]
	if !ok {
		o.campMu.Unlock()
		return
	}
	if task.Status == model.TaskCompleted {
		c.Counters.Completed++
	} else {
		c.Counters.Failed++
	}
	c.Counters.Pending = max(c.Counters.Pending-1, 0)
	c.UpdatedAt = now
	finished := c.Counters.Pending == 0 && c.Status != model.CampaignCompleted
	if finished {
		markCompleted(c, now)
	}
	snapshot := *c
	o.campMu.Unlock()

	o.publishCampaign(snapshot)
	if finished {
		o.log("info", "campaign completed", map[string]any{
			"campaignId": snapshot.ID,
			"completed":  snapshot.Counters.Completed,
			"failed":     snapshot.Counters.Failed,
		})
		o.emit("notify", func(ctx context.Context) { o.notifier.NotifyCampaignFinished(ctx, snapshot) })
	}
}

func markCompleted(c *model.Campaign, now time.Time) {
	c.Status = model.CampaignCompleted
	c.CompletedAt = now
	c.UpdatedAt = now
}

func (o *Orchestrator) publishCampaign(c model.Campaign) {
	if o.bus != nil {
		o.bus.Publish(logbus.TypeCampaignState, model.CampaignState{
			CampaignID: c.ID,
			Status:     c.Status,
			Counters:   c.Counters,
			AtMs:       c.UpdatedAt.UnixMilli(),
		})
	}
	if o.mirror != nil {
		o.emit("mirror", func(ctx context.Context) {
			if err := o.mirror.UpsertCampaign(ctx, c); err != nil {
				o.log("warn", "mirror campaign failed", map[string]any{"campaignId": c.ID, "error": err.Error()})
			}
		})
	}
}

func (o *Orchestrator) Stats() Stats {
	out := Stats{
		Running:   o.Running(),
		Queues:    o.queue.AllStats(),
		Campaigns: make(map[model.CampaignStatus]int),
	}
	o.campMu.RLock()
	for _, c := range o.campaigns {
		out.Campaigns[c.Status]++
	}
	o.campMu.RUnlock()
	return out
}

func (o *Orchestrator) QueueStats(cat model.Category) (model.QueueStats, error) {
	return o.queue.QueueStats(cat)
}

// ClearQueue empties one category. Campaigns left with nothing outstanding are completed.
func (o *Orchestrator) ClearQueue(cat model.Category) error {
	if err := o.queue.Clear(cat); err != nil {
		return err
	}
	o.log("warn", "queue cleared", map[string]any{"category": cat})
	o.reconcileCampaigns()
	return nil
}

func (o *Orchestrator) ClearAllQueues() error {
	if err := o.queue.ClearAll(); err != nil {
		return err
	}
	o.log("warn", "all queues cleared", nil)
	o.reconcileCampaigns()
	return nil
}

// reconcileCampaigns recomputes pending counters from the queues after an administrative
// clear removed tasks without an outcome.
func (o *Orchestrator) reconcileCampaigns() {
	o.campMu.RLock()
	ids := make([]string, 0, len(o.campaigns))
	for id, c := range o.campaigns {
		if c.Status != model.CampaignCompleted {
			ids = append(ids, id)
		}
	}
	o.campMu.RUnlock()

	for _, id := range ids {
		outstanding := o.queue.Outstanding(id)

		o.campMu.Lock()
		c, ok := o.campaigns[id]
		if !ok || c.Status == model.CampaignCompleted || outstanding >= c.Counters.Pending {
			o.campMu.Unlock()
			continue
		}
		now := o.now()
		c.Counters.Pending = outstanding
		c.UpdatedAt = now
		finished := outstanding == 0
		if finished {
			markCompleted(c, now)
		}
		snapshot := *c
		o.campMu.Unlock()

		o.publishCampaign(snapshot)
		if finished {
			o.emit("notify", func(ctx context.Context) { o.notifier.NotifyCampaignFinished(ctx, snapshot) })
		}
	}
}

func (o *Orchestrator) AddBlacklistedDomain(domain string) error {
	if err := o.gate.AddBlacklistedDomain(domain); err != nil {
		return err
	}
	o.log("info", "domain blacklisted", map[string]any{"domain": safety.NormalizeDomain(domain)})
	return nil
}

func (o *Orchestrator) RemoveBlacklistedDomain(domain string) bool {
	removed := o.gate.RemoveBlacklistedDomain(domain)
	if removed {
		o.log("info", "domain removed from blacklist", map[string]any{"domain": safety.NormalizeDomain(domain)})
	}
	return removed
}

func (o *Orchestrator) Blacklist() []string { return o.gate.Blacklist() }

func (o *Orchestrator) SafetyUsage() []model.ScopeUsage { return o.gate.Usage() }

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"outreach_engine/internal/config"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/model"
)

// SettingsSource supplies SMTP settings at send time so edits apply without a restart.
type SettingsSource interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
}

// SendFunc delivers one rendered summary.
type SendFunc func(ctx context.Context, settings model.EmailSettings, subject, htmlBody, textBody string) error

type EmailOption func(*EmailNotifier)

func WithSendFunc(fn SendFunc) EmailOption {
	return func(n *EmailNotifier) {
		if fn != nil {
			n.send = fn
		}
	}
}

func WithNow(now func() time.Time) EmailOption {
	return func(n *EmailNotifier) {
		if now != nil {
			n.now = now
		}
	}
}

type EmailNotifier struct {
	settings SettingsSource
	bus      *logbus.Bus
	send     SendFunc
	now      func() time.Time

	mu     sync.Mutex
	queue  chan Event
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(settings SettingsSource, cfg config.NotifyConfig, bus *logbus.Bus, opts ...EmailOption) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings:      settings,
		bus:           bus,
		send:          sendSMTP,
		now:           time.Now,
		queue:         make(chan Event, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: cfg.SummaryWindow(),
		maxBatch:      cfg.MaxBatch,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close flushes whatever is pending and waits for the worker to exit.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyCampaignFinished(_ context.Context, c model.Campaign) {
	n.enqueue(Event{
		Kind:         KindCampaignFinished,
		AtMs:         n.now().UnixMilli(),
		CampaignID:   c.ID,
		CampaignName: c.Name,
		Counters:     c.Counters,
	})
}

func (n *EmailNotifier) NotifyTaskFailed(_ context.Context, t model.Task) {
	n.enqueue(Event{
		Kind:       KindTaskFailed,
		AtMs:       n.now().UnixMilli(),
		CampaignID: t.CampaignID,
		TaskID:     t.ID,
		Category:   t.Category,
		Target:     t.Target.URL,
		Error:      t.LastError,
		RetryCount: t.RetryCount,
	})
}

func (n *EmailNotifier) enqueue(evt Event) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "email notification dropped: queue full", map[string]any{
				"kind":       evt.Kind,
				"campaignId": evt.CampaignID,
				"taskId":     evt.TaskID,
			})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []Event
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if n.summaryWindow <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]Event(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
		drain:
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []Event) {
	if n.settings == nil {
		return
	}
	// the worker context is already cancelled during shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(n.ctx), 30*time.Second)
	defer cancel()

	settings, ok, err := n.settings.GetEmailSettings(ctx)
	if err != nil {
		n.log("warn", "failed to load email settings", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled {
		n.log("info", "email notifications disabled", map[string]any{
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	if err := ValidateSettings(settings); err != nil {
		n.log("warn", "invalid email settings", map[string]any{"error": err.Error()})
		return
	}

	subject := buildSummarySubject(events)
	htmlBody, textBody, err := buildSummaryEmailBody(events)
	if err != nil {
		n.log("warn", "failed to render email", map[string]any{"error": err.Error()})
		return
	}
	if err := n.send(ctx, settings, subject, htmlBody, textBody); err != nil {
		n.log("warn", "failed to send email", map[string]any{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	n.log("info", "notification email sent", map[string]any{
		"count":  len(events),
		"reason": reason,
		"to":     strings.Join(settings.To, ","),
	})
}

func (n *EmailNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

func ValidateSettings(s model.EmailSettings) error {
	from := strings.TrimSpace(s.From)
	if from == "" {
		return errors.New("from is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return errors.New("invalid from address")
	}
	if len(s.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, to := range s.To {
		if _, err := mail.ParseAddress(strings.TrimSpace(to)); err != nil {
			return fmt.Errorf("invalid recipient %q", to)
		}
	}
	if strings.TrimSpace(s.Password) == "" {
		return errors.New("password is required")
	}
	return nil
}

func sendSMTP(ctx context.Context, settings model.EmailSettings, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := strings.TrimSpace(settings.From)
	host, port, useSSL, err := smtpConfig(settings)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(from, "Outreach Engine"))
	msg.SetHeader("To", settings.To...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	user := strings.TrimSpace(settings.Username)
	if user == "" {
		user = from
	}
	d := gomail.NewDialer(host, port, user, strings.TrimSpace(settings.Password))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

// smtpConfig prefers explicit host/port and otherwise guesses from the sender domain.
func smtpConfig(s model.EmailSettings) (host string, port int, useSSL bool, err error) {
	if h := strings.TrimSpace(s.Host); h != "" {
		port = s.Port
		if port <= 0 {
			port = 587
		}
		return h, port, port == 465, nil
	}

	parts := strings.Split(strings.TrimSpace(s.From), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "gmail.com" || domain == "googlemail.com":
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || domain == "hotmail.com" || domain == "live.com":
		return "smtp.office365.com", 587, false, nil
	case domain == "yahoo.com" || strings.HasSuffix(domain, ".yahoo.com"):
		return "smtp.mail.yahoo.com", 465, true, nil
	case domain == "icloud.com" || domain == "me.com":
		return "smtp.mail.me.com", 587, false, nil
	case domain == "fastmail.com":
		return "smtp.fastmail.com", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSummarySubject(events []Event) string {
	var finished, failed int
	for _, evt := range events {
		switch evt.Kind {
		case KindCampaignFinished:
			finished++
		case KindTaskFailed:
			failed++
		}
	}
	switch {
	case finished > 0 && failed > 0:
		return fmt.Sprintf("Outreach summary: %d campaign(s) finished, %d task(s) failed", finished, failed)
	case finished > 0:
		return fmt.Sprintf("Outreach summary: %d campaign(s) finished", finished)
	default:
		return fmt.Sprintf("Outreach summary: %d task(s) failed", failed)
	}
}

var emailSummaryHTMLTpl = template.Must(template.New("email-summary").Parse(`
<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width" />
    <title>Outreach summary</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'Helvetica Neue',Arial,sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;letter-spacing:.2px;">Outreach summary</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">{{ .Start }} ~ {{ .End }}</div>
        </div>

        <div style="padding:22px;">
          <div style="margin-top:12px;border:1px solid #eef0f6;border-radius:12px;overflow:hidden;">
            <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
              <thead>
                <tr style="background:#fafbff;">
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Time</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Event</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Campaign</th>
                  <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;border-bottom:1px solid #eef0f6;">Detail</th>
                </tr>
              </thead>
              <tbody>
                {{ range .Rows }}
                <tr>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .At }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Event }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Campaign }}</td>
                  <td style="padding:10px 12px;font-size:12px;color:#111827;border-bottom:1px solid #eef0f6;">{{ .Detail }}</td>
                </tr>
                {{ end }}
              </tbody>
            </table>
          </div>

          <div style="margin-top:14px;color:#9ca3af;font-size:12px;line-height:1.6;">
            This message was sent automatically.
          </div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type summaryRow struct {
	At       string
	Event    string
	Campaign string
	Detail   string
}

func buildSummaryEmailBody(events []Event) (htmlBody string, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}

	rows := make([]summaryRow, 0, len(events))
	var minAt, maxAt time.Time
	for i, evt := range events {
		at := time.UnixMilli(evt.AtMs)
		if i == 0 || at.Before(minAt) {
			minAt = at
		}
		if i == 0 || at.After(maxAt) {
			maxAt = at
		}
		rows = append(rows, summaryRow{
			At:       at.Format("2006-01-02 15:04:05"),
			Event:    eventLabel(evt.Kind),
			Campaign: safeText(evt.CampaignName, evt.CampaignID),
			Detail:   eventDetail(evt),
		})
	}

	data := struct {
		Start string
		End   string
		Rows  []summaryRow
	}{
		Start: minAt.Format("2006-01-02 15:04:05"),
		End:   maxAt.Format("2006-01-02 15:04:05"),
		Rows:  rows,
	}

	var buf bytes.Buffer
	if err := emailSummaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("Outreach summary\n")
	fmt.Fprintf(text, "%d event(s), %s ~ %s\n", len(events), data.Start, data.End)
	for _, row := range rows {
		fmt.Fprintf(text, "- %s | %s | %s | %s\n", row.At, row.Event, row.Campaign, row.Detail)
	}
	return buf.String(), text.String(), nil
}

func eventLabel(kind string) string {
	switch kind {
	case KindCampaignFinished:
		return "campaign finished"
	case KindTaskFailed:
		return "task failed"
	default:
		return kind
	}
}

func eventDetail(evt Event) string {
	switch evt.Kind {
	case KindCampaignFinished:
		c := evt.Counters
		return fmt.Sprintf("%d total, %d completed, %d failed", c.Total, c.Completed, c.Failed)
	case KindTaskFailed:
		return fmt.Sprintf("%s %s after %d retries: %s", evt.Category, evt.Target, evt.RetryCount, evt.Error)
	default:
		return ""
	}
}

func safeText(prefer, fallback string) string {
	prefer = strings.TrimSpace(prefer)
	if prefer != "" {
		return prefer
	}
	return strings.TrimSpace(fallback)
}

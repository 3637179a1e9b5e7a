package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"outreach_engine/internal/config"
	"outreach_engine/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticSettings struct {
	settings model.EmailSettings
	ok       bool
	err      error
}

func (s staticSettings) GetEmailSettings(context.Context) (model.EmailSettings, bool, error) {
	return s.settings, s.ok, s.err
}

type sentMail struct {
	subject string
	html    string
	text    string
}

type recorder struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (r *recorder) send(_ context.Context, _ model.EmailSettings, subject, htmlBody, textBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{subject: subject, html: htmlBody, text: textBody})
	return r.err
}

func (r *recorder) all() []sentMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMail(nil), r.sent...)
}

func validSettings() model.EmailSettings {
	return model.EmailSettings{
		Enabled:  true,
		From:     "bot@example.com",
		To:       []string{"ops@example.com"},
		Password: "secret",
	}
}

func TestCloseFlushesPendingBatch(t *testing.T) {
	rec := &recorder{}
	n := NewEmailNotifier(staticSettings{settings: validSettings(), ok: true},
		config.NotifyConfig{SummaryWindowSeconds: 600, MaxBatch: 50}, nil, WithSendFunc(rec.send))

	n.NotifyCampaignFinished(context.Background(), model.Campaign{
		ID:       "c1",
		Name:     "spring launch",
		Counters: model.CampaignCounters{Total: 4, Completed: 3, Failed: 1},
	})
	n.NotifyTaskFailed(context.Background(), model.Task{
		ID:         "t9",
		CampaignID: "c1",
		Category:   model.CategoryForum,
		Target:     model.Target{URL: "https://forum.example/t/1"},
		LastError:  "submission rejected",
		RetryCount: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))

	sent := rec.all()
	require.Len(t, sent, 1, "both events land in one summary")
	assert.Equal(t, "Outreach summary: 1 campaign(s) finished, 1 task(s) failed", sent[0].subject)
	assert.Contains(t, sent[0].text, "spring launch")
	assert.Contains(t, sent[0].text, "4 total, 3 completed, 1 failed")
	assert.Contains(t, sent[0].text, "submission rejected")
	assert.Contains(t, sent[0].html, "https://forum.example/t/1")
}

func TestMaxBatchFlushesEarly(t *testing.T) {
	rec := &recorder{}
	n := NewEmailNotifier(staticSettings{settings: validSettings(), ok: true},
		config.NotifyConfig{SummaryWindowSeconds: 600, MaxBatch: 2}, nil, WithSendFunc(rec.send))
	defer n.Close(context.Background())

	for i := 0; i < 2; i++ {
		n.NotifyTaskFailed(context.Background(), model.Task{ID: "t", Category: model.CategoryProfile})
	}
	assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Outreach summary: 2 task(s) failed", rec.all()[0].subject)
}

func TestDisabledOrBrokenSettingsSkipSending(t *testing.T) {
	cases := map[string]staticSettings{
		"missing":  {},
		"disabled": {settings: model.EmailSettings{From: "bot@example.com"}, ok: true},
		"invalid":  {settings: model.EmailSettings{Enabled: true, From: "nope"}, ok: true},
		"error":    {err: errors.New("db locked")},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			n := NewEmailNotifier(src, config.NotifyConfig{}, nil, WithSendFunc(rec.send))
			n.NotifyTaskFailed(context.Background(), model.Task{ID: "t1"})
			require.NoError(t, n.Close(context.Background()))
			assert.Empty(t, rec.all())
		})
	}
}

func TestValidateSettings(t *testing.T) {
	assert.NoError(t, ValidateSettings(validSettings()))

	s := validSettings()
	s.To = nil
	assert.Error(t, ValidateSettings(s))

	s = validSettings()
	s.To = []string{"not an address"}
	assert.Error(t, ValidateSettings(s))

	s = validSettings()
	s.Password = " "
	assert.Error(t, ValidateSettings(s))
}

func TestSMTPConfig(t *testing.T) {
	host, port, ssl, err := smtpConfig(model.EmailSettings{Host: "mail.internal", Port: 465})
	require.NoError(t, err)
	assert.Equal(t, "mail.internal", host)
	assert.Equal(t, 465, port)
	assert.True(t, ssl)

	host, port, ssl, err = smtpConfig(model.EmailSettings{From: "me@gmail.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.gmail.com", host)
	assert.Equal(t, 587, port)
	assert.False(t, ssl)

	host, _, _, err = smtpConfig(model.EmailSettings{From: "me@corp.example"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.corp.example", host)

	_, _, _, err = smtpConfig(model.EmailSettings{From: "broken"})
	assert.Error(t, err)
}

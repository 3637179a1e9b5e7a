package standard

import (
	"time"

	"github.com/go-resty/resty/v2"

	"outreach_engine/internal/config"
	"outreach_engine/internal/logbus"
)

func newRestyClient(baseURL string, timeout time.Duration, retry config.RetryConfig, bus *logbus.Bus) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(retry.Count).
		SetRetryWaitTime(retry.Wait()).
		SetRetryMaxWaitTime(retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if bus != nil {
			bus.Log("debug", "http request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})
	return client
}

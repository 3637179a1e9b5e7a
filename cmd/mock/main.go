package main

import (
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Weighted publish statuses, roughly what a real mix of sites returns.
var publishMix = []struct {
	status string
	weight int
}{
	{"posted", 60},
	{"moderation", 20},
	{"captcha", 10},
	{"failed", 10},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	failRate := flag.Float64("fail-rate", 0.05, "fraction of requests answered with a 5xx")
	flag.Parse()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Route("/mock", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})

		r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Category   string `json:"category"`
				Kind       string `json:"kind"`
				Keyword    string `json:"keyword"`
				AnchorText string `json:"anchorText"`
				TargetURL  string `json:"targetUrl"`
				LinkURL    string `json:"linkUrl"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
				return
			}
			if rand.Float64() < *failRate {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "generator overloaded"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    mockContent(body.Kind, body.Keyword, body.AnchorText, body.LinkURL),
			})
		})

		r.Post("/publish", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Category    string         `json:"category"`
				Destination string         `json:"destination"`
				Payload     map[string]any `json:"payload"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
				return
			}
			if strings.TrimSpace(body.Destination) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "destination is required"})
				return
			}
			if rand.Float64() < *failRate {
				writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "upstream unavailable"})
				return
			}

			status := pickStatus()
			data := map[string]any{"status": status}
			switch status {
			case "posted":
				data["url"] = strings.TrimRight(body.Destination, "/") + "#post-" + randString(8)
			case "moderation":
				data["detail"] = "comment held for review"
			case "captcha":
				data["detail"] = "captcha challenge presented"
			case "failed":
				data["detail"] = "form rejected the submission"
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

func pickStatus() string {
	total := 0
	for _, s := range publishMix {
		total += s.weight
	}
	n := rand.IntN(total)
	for _, s := range publishMix {
		if n < s.weight {
			return s.status
		}
		n -= s.weight
	}
	return "failed"
}

func mockContent(kind, keyword, anchor, link string) map[string]any {
	if keyword == "" {
		keyword = "this topic"
	}
	link = strings.TrimSpace(link)
	var linkText string
	if link != "" {
		if anchor == "" {
			anchor = link
		}
		linkText = fmt.Sprintf(` <a href="%s">%s</a>`, link, anchor)
	}
	openers := []string{
		"Really useful write-up on %s.",
		"I have been reading about %s for a while and this helped.",
		"Good points here about %s, especially the practical side.",
		"Thanks for covering %s in this much detail.",
	}
	body := fmt.Sprintf(openers[rand.IntN(len(openers))], keyword)
	out := map[string]any{"tags": []string{keyword}}
	switch kind {
	case "article":
		out["title"] = fmt.Sprintf("A practical look at %s", keyword)
		body += " Here is what worked for us after a few months of trying different approaches." + linkText
	case "bio":
		body = fmt.Sprintf("Writing about %s and related projects.%s", keyword, linkText)
	default:
		body += linkText
	}
	out["body"] = body
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}

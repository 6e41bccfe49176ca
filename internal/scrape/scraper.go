// Package scrape wraps the Firecrawl scrape API and assembles its
// responses into one human-readable text block. Failures never escape
// as errors: every failure path returns an "Error: ..." string.
package scrape

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Formats derived locally from the upstream "html" format.
const (
	FormatHTML2Text = "html2text"
	FormatHTML2BS4  = "html2bs4"
)

type Options struct {
	APIURL          string
	APIKey          string
	Formats         []string
	VerifySSL       bool
	Timeout         time.Duration
	MaxDepth        int
	FollowRedirects bool
	IncludeTags     []string
	ExcludeTags     []string
	Headers         map[string]string
	WaitFor         int
	CacheTTL        time.Duration
}

type StatusState string

const (
	StatusInProgress StatusState = "in_progress"
	StatusSuccess    StatusState = "success"
	StatusError      StatusState = "error"
)

type Status struct {
	Description string
	State       StatusState
	Done        bool
}

// StatusFunc receives progress updates during a scrape. Nil is allowed.
type StatusFunc func(Status)

type Scraper struct {
	opts       Options
	httpClient *http.Client
	cache      *resultCache
}

func New(opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []string{"markdown"}
	}

	client := &http.Client{Timeout: opts.Timeout}
	if !opts.VerifySSL {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Scraper{
		opts:       opts,
		httpClient: client,
		cache:      newResultCache(opts.CacheTTL),
	}
}

// Scrape fetches url in the requested formats and returns the combined
// content block. A nil formats slice falls back to the configured default.
func (s *Scraper) Scrape(ctx context.Context, url string, formats []string, status StatusFunc) string {
	if formats == nil {
		formats = s.opts.Formats
	}
	emit := func(st Status) {
		if status != nil {
			status(st)
		}
	}

	cacheKey := url + "|" + strings.Join(formats, ",")
	if cached, ok := s.cache.Get(cacheKey); ok {
		emit(Status{Description: "Returning cached content for " + url, State: StatusSuccess, Done: true})
		return cached
	}

	emit(Status{Description: "Starting web scrape...", State: StatusInProgress})

	payload := s.buildPayload(url, formats)
	body, err := json.Marshal(payload)
	if err != nil {
		emit(Status{Description: "Error: " + err.Error(), State: StatusError, Done: true})
		return "Error: " + err.Error()
	}

	emit(Status{Description: "Scraping content from " + url, State: StatusInProgress})

	endpoint := strings.TrimRight(s.opts.APIURL, "/") + "/scrape"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		emit(Status{Description: "Error: " + err.Error(), State: StatusError, Done: true})
		return "Error: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("scrape request", "error", err, "url", url)
		errMsg := "Error: " + err.Error()
		emit(Status{Description: errMsg, State: StatusError, Done: true})
		return errMsg
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errMsg := fmt.Sprintf("Error: Failed to scrape URL. Status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusBadRequest {
			errMsg = fmt.Sprintf("%s - payload send: %s", errMsg, body)
		}
		emit(Status{Description: errMsg, State: StatusError, Done: true})
		return errMsg
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		errMsg := "Error: " + err.Error()
		emit(Status{Description: errMsg, State: StatusError, Done: true})
		return errMsg
	}

	var scrapeResp struct {
		Success bool           `json:"success"`
		Error   string         `json:"error"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(respBody, &scrapeResp); err != nil {
		errMsg := "Error: " + err.Error()
		emit(Status{Description: errMsg, State: StatusError, Done: true})
		return errMsg
	}

	if !scrapeResp.Success {
		msg := scrapeResp.Error
		if msg == "" {
			msg = "Unknown error occurred"
		}
		errMsg := "Error: " + msg
		emit(Status{Description: errMsg, State: StatusError, Done: true})
		return errMsg
	}

	result, errMsg := s.assemble(url, formats, scrapeResp.Data)
	if errMsg != "" {
		emit(Status{Description: errMsg, State: StatusError, Done: true})
		return errMsg
	}

	emit(Status{Description: "Firecrawl successfully scraped content from " + url, State: StatusSuccess, Done: true})
	s.cache.Set(cacheKey, result)
	return result
}

// buildPayload assembles the upstream request. Derived html2* formats
// are never sent upstream; instead "html" is silently added whenever one
// of them is requested. Optional parameters are included only when they
// differ from the upstream defaults.
func (s *Scraper) buildPayload(url string, formats []string) map[string]any {
	upstream := make([]string, 0, len(formats))
	needHTML := false
	for _, f := range formats {
		if strings.HasPrefix(f, "html2") {
			needHTML = true
			continue
		}
		upstream = append(upstream, f)
	}
	if needHTML && !contains(upstream, "html") {
		upstream = append(upstream, "html")
	}

	payload := map[string]any{
		"url":     url,
		"formats": upstream,
	}
	if s.opts.Timeout != 30*time.Second {
		payload["timeout"] = int(s.opts.Timeout.Seconds())
	}
	if s.opts.MaxDepth != 0 && s.opts.MaxDepth != 2 {
		payload["maxDepth"] = s.opts.MaxDepth
	}
	if !s.opts.FollowRedirects {
		payload["followRedirects"] = false
	}
	if s.opts.WaitFor > 0 {
		payload["waitFor"] = s.opts.WaitFor
	}
	if len(s.opts.IncludeTags) > 0 {
		payload["includeTags"] = s.opts.IncludeTags
	}
	if len(s.opts.ExcludeTags) > 0 {
		payload["excludeTags"] = s.opts.ExcludeTags
	}
	if len(s.opts.Headers) > 0 {
		payload["headers"] = s.opts.Headers
	}
	return payload
}

// assemble renders the requested formats, in request order, into one
// text block headed by the scrape timestamp, source URL and metadata.
func (s *Scraper) assemble(url string, formats []string, data map[string]any) (string, string) {
	sections := make([]string, 0, len(formats))
	for _, format := range formats {
		content, ok := s.renderFormat(format, data)
		if !ok {
			continue
		}
		content = collapseWhitespace(content)
		if format == "markdown" || format == FormatHTML2Text {
			content = dropDeadLinks(content)
		}
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s", format, content))
	}

	if len(sections) == 0 {
		return "", fmt.Sprintf("Error: No content found in %s format", formats[0])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scraped: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "URL: %s\n", url)
	if meta, ok := data["metadata"].(map[string]any); ok {
		if title, ok := meta["title"].(string); ok && title != "" {
			fmt.Fprintf(&b, "Title: %s\n", title)
		}
		if code, ok := meta["statusCode"].(float64); ok {
			fmt.Fprintf(&b, "Status code: %d\n", int(code))
		}
		if source, ok := meta["sourceURL"].(string); ok && source != "" {
			fmt.Fprintf(&b, "Source: %s\n", source)
		}
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(sections, "\n\n"))
	return b.String(), ""
}

func (s *Scraper) renderFormat(format string, data map[string]any) (string, bool) {
	switch format {
	case FormatHTML2Text:
		html, ok := data["html"].(string)
		if !ok || html == "" {
			return "", false
		}
		text, err := htmlToText(html)
		if err != nil {
			slog.Error("convert html to text", "error", err)
			return "", false
		}
		return text, true
	case FormatHTML2BS4:
		html, ok := data["html"].(string)
		if !ok || html == "" {
			return "", false
		}
		cleaned, err := cleanHTML(html)
		if err != nil {
			slog.Error("clean html", "error", err)
			return "", false
		}
		return cleaned, true
	case "links":
		items, ok := data["links"].([]any)
		if !ok || len(items) == 0 {
			return "", false
		}
		links := make([]string, 0, len(items))
		for _, item := range items {
			if link, ok := item.(string); ok {
				links = append(links, link)
			}
		}
		return strings.Join(links, "\n"), true
	default:
		content, ok := data[format].(string)
		if !ok || content == "" {
			return "", false
		}
		return content, true
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Package sources fetches upcoming contests from the public platforms and
// normalizes them into contest.Contest values.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contestbot/internal/contest"
	logx "contestbot/pkg/logx"
)

// Adapter fetches one platform. Implementations never panic on bad rows;
// a row that cannot be parsed is skipped.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) ([]contest.Contest, error)
}

const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "contestbot/1.0 (+contest digest)"

	maxBodyBytes = 4 << 20
)

// Options is shared by every adapter.
type Options struct {
	// URL overrides the adapter's public endpoint.
	URL       string
	Client    *http.Client
	UserAgent string
	// Location is the single reference zone every start time is rendered in.
	Location *time.Location
	Log      logx.Logger
}

func (o Options) withDefaults(defURL, comp string) Options {
	if strings.TrimSpace(o.URL) == "" {
		o.URL = defURL
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	o.Log = o.Log.With(logx.String("source", comp))
	return o
}

// fetch performs req and returns the body of a 2xx response.
func (o Options) fetch(ctx context.Context, source string, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", o.UserAgent)
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, &SourceFetchError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &SourceFetchError{Source: source, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SourceFetchError{Source: source, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return body, nil
}

func (o Options) get(ctx context.Context, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL, nil)
	if err != nil {
		return nil, &SourceFetchError{Source: source, Err: err}
	}
	return o.fetch(ctx, source, req)
}

// skip logs a row that could not be parsed.
func (o Options) skip(err *RowParseError) {
	o.Log.Debug("row skipped", logx.Int("row", err.Row), logx.String("field", err.Field), logx.Err(err.Err))
}

// resolveLink turns a relative href into an absolute URL against the page URL.
func resolveLink(page, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	base, err := url.Parse(page)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// ParseHourMinute parses scraped "H:MM" duration text. The first component is
// whole hours (unbounded), the second minutes (0-59).
func ParseHourMinute(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("duration %q: want H:MM", s)
	}
	h, err := parseDigits(parts[0])
	if err != nil {
		return 0, fmt.Errorf("duration %q: hours: %w", s, err)
	}
	m, err := parseDigits(parts[1])
	if err != nil || m > 59 {
		return 0, fmt.Errorf("duration %q: invalid minutes", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func parseDigits(s string) (int, error) {
	if s == "" || len(s) > 6 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid number %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

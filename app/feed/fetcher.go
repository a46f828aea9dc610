package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lysyi3m/listing-comb/app/retry"
)

const feedAccept = "application/xml,text/xml;q=0.9,*/*;q=0.8"

type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewFetcher(httpClient *http.Client, userAgent string) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// Run downloads the feed snapshot, keeping the last good copy on disk. When
// every attempt fails the last local copy is returned instead.
func (f *Fetcher) Run(ctx context.Context, feedConfig *Config) ([]byte, error) {
	delay := time.Duration(feedConfig.Settings.FetchRetryDelay) * time.Second
	policy := retry.Policy{
		Attempts: feedConfig.Settings.FetchAttempts,
		Backoff:  retry.OnRateLimit(retry.Fixed(delay), retry.Linear(delay)),
		Sleep:    f.sleep,
	}

	var data []byte
	err := policy.Do(ctx, "fetch feed", func(ctx context.Context, attempt int) error {
		var fetchErr error
		data, fetchErr = f.fetch(ctx, feedConfig)
		return fetchErr
	})
	if err == nil {
		f.saveLocalCopy(feedConfig, data)
		return data, nil
	}

	if errors.Is(err, context.Canceled) || feedConfig.Settings.LocalCopy == "" {
		return nil, err
	}

	local, readErr := os.ReadFile(feedConfig.Settings.LocalCopy)
	if readErr != nil {
		return nil, fmt.Errorf("%w (no local copy: %v)", err, readErr)
	}

	slog.Warn("Feed download failed, using local copy", "feed", feedConfig.Name, "path", feedConfig.Settings.LocalCopy, "error", err)
	return local, nil
}

func (f *Fetcher) fetch(ctx context.Context, feedConfig *Config) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(feedConfig.Settings.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", feedConfig.URL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", feedAccept)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (f *Fetcher) saveLocalCopy(feedConfig *Config, data []byte) {
	path := feedConfig.Settings.LocalCopy
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		slog.Warn("Failed to create local copy directory", "feed", feedConfig.Name, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("Failed to write local feed copy", "feed", feedConfig.Name, "path", path, "error", err)
	}
}

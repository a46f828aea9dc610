package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lysyi3m/listing-comb/app/retry"
	"golang.org/x/time/rate"
)

const maxImageBytes = 32 << 20

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	policy     retry.Policy
}

// NewFetcher returns an image downloader limited to rps requests per second.
// attempts bounds the tries per image within one cycle.
func NewFetcher(httpClient *http.Client, userAgent string, rps float64, attempts int) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		policy: retry.Policy{
			Attempts: attempts,
			Backoff:  retry.Exponential(time.Second, 10*time.Second),
		},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := f.policy.Do(ctx, "fetch image", func(ctx context.Context, attempt int) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		var fetchErr error
		data, fetchErr = f.get(ctx, url)
		return fetchErr
	})
	return data, err
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	return data, nil
}

// SPDX-License-Identifier: MPL-2.0

package mavenresolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"resty.dev/v3"
)

// ErrNotFound means a repository does not host the requested file.
var ErrNotFound = errors.New("not found in repository")

type (
	// HTTPStatusError is returned for unexpected repository responses.
	HTTPStatusError struct {
		URL        string
		StatusCode int
	}

	fetcher struct {
		client        *resty.Client
		retries       uint64
		retryInterval time.Duration
		slots         chan struct{}
	}
)

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func newFetcher(opts Options) *fetcher {
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)
	return &fetcher{
		client:        client,
		retries:       uint64(opts.Retries),
		retryInterval: opts.RetryInterval,
		slots:         make(chan struct{}, opts.MaxConcurrentFetches),
	}
}

func (f *fetcher) close() error {
	return f.client.Close()
}

// get downloads url. Missing files (404, 410) fail immediately with
// ErrNotFound; server errors and transport failures are retried with
// exponential backoff.
func (f *fetcher) get(ctx context.Context, url string) ([]byte, error) {
	select {
	case f.slots <- struct{}{}:
		defer func() { <-f.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	op := func() ([]byte, error) {
		resp, err := f.client.R().SetContext(ctx).Get(url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("GET %s: %w", url, err)
		}

		code := resp.StatusCode()
		switch {
		case code == http.StatusNotFound || code == http.StatusGone:
			return nil, backoff.Permanent(fmt.Errorf("%s: %w", url, ErrNotFound))
		case code == http.StatusTooManyRequests || code >= 500:
			return nil, &HTTPStatusError{URL: url, StatusCode: code}
		case code >= 300:
			return nil, backoff.Permanent(&HTTPStatusError{URL: url, StatusCode: code})
		}
		return resp.Bytes(), nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.retryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, f.retries), ctx)
	return backoff.RetryWithData(op, policy)
}

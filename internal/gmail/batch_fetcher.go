package gmail

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"newsletter-briefing/internal/logger"
)

const (
	fetchBatchSize  = 50
	fetchBatchPause = time.Second
	retryDelay      = 3 * time.Second
	retryBatchSize  = 25
	retryBatchPause = 2 * time.Second
)

type getFunc func(ctx context.Context, id string) (*gmail.Message, error)

// batchFetcher downloads full messages in paced batches. IDs rejected for
// rate limiting get one slower retry pass and are reported back if they are
// still limited after it. Other failures are logged and skipped.
type batchFetcher struct {
	get    getFunc
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logger.Logger
}

func newBatchFetcher(get getFunc, logger *logger.Logger) *batchFetcher {
	return &batchFetcher{get: get, sleep: sleepContext, logger: logger}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchAll returns messages in id order, followed by ids that were still
// rate-limited after the retry pass.
func (f *batchFetcher) fetchAll(ctx context.Context, ids []string) ([]*gmail.Message, []string, error) {
	results := make(map[string]*gmail.Message, len(ids))

	limited, skipped, err := f.pass(ctx, ids, fetchBatchSize, fetchBatchPause, results)
	if err != nil {
		return nil, nil, err
	}

	var stillLimited []string
	if len(limited) > 0 {
		f.logger.Warnf("%d messages rate-limited, retrying after %s", len(limited), retryDelay)
		if err := f.sleep(ctx, retryDelay); err != nil {
			return nil, nil, err
		}
		var retrySkipped []string
		stillLimited, retrySkipped, err = f.pass(ctx, limited, retryBatchSize, retryBatchPause, results)
		if err != nil {
			return nil, nil, err
		}
		skipped = append(skipped, retrySkipped...)
	}

	if len(skipped) > 0 {
		f.logger.Warnf("Skipped %d messages that failed to fetch", len(skipped))
	}
	if len(stillLimited) > 0 {
		f.logger.Warnf("%d messages still rate-limited and will be retried next run", len(stillLimited))
	}

	messages := make([]*gmail.Message, 0, len(results))
	for _, id := range ids {
		if msg, ok := results[id]; ok {
			messages = append(messages, msg)
		}
	}
	return messages, stillLimited, nil
}

// pass fetches ids in batches of size, pausing between batches. It returns
// ids rejected for rate limiting separately from other failures.
func (f *batchFetcher) pass(
	ctx context.Context,
	ids []string,
	size int,
	pause time.Duration,
	results map[string]*gmail.Message,
) (limited, failed []string, err error) {
	var mu sync.Mutex

	for start := 0; start < len(ids); start += size {
		if start > 0 {
			if err := f.sleep(ctx, pause); err != nil {
				return nil, nil, err
			}
		}

		end := start + size
		if end > len(ids) {
			end = len(ids)
		}

		var g errgroup.Group
		for _, id := range ids[start:end] {
			id := id
			g.Go(func() error {
				msg, err := f.get(ctx, id)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					results[id] = msg
				case isRateLimited(err):
					limited = append(limited, id)
				default:
					f.logger.Errorf("Failed to fetch message %s: %v", id, err)
					failed = append(failed, id)
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}

	return sortByOrder(limited, ids), sortByOrder(failed, ids), nil
}

func sortByOrder(subset, order []string) []string {
	if len(subset) == 0 {
		return nil
	}
	want := make(map[string]bool, len(subset))
	for _, id := range subset {
		want[id] = true
	}
	out := make([]string, 0, len(subset))
	for _, id := range order {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code == http.StatusForbidden {
		for _, item := range apiErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

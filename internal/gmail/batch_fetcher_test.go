package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"newsletter-briefing/internal/logger"
)

type fakeGetter struct {
	mu       sync.Mutex
	attempts map[string]int
	respond  func(id string, attempt int) (*gmail.Message, error)
}

func (f *fakeGetter) get(_ context.Context, id string) (*gmail.Message, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[id]++
	attempt := f.attempts[id]
	f.mu.Unlock()
	return f.respond(id, attempt)
}

func newTestFetcher(get getFunc) (*batchFetcher, *[]time.Duration) {
	var pauses []time.Duration
	var mu sync.Mutex
	f := newBatchFetcher(get, logger.Discard())
	f.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		pauses = append(pauses, d)
		return nil
	}
	return f, &pauses
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("m%03d", i)
	}
	return out
}

func TestBatchFetcherFetchesAllInOrder(t *testing.T) {
	getter := &fakeGetter{respond: func(id string, _ int) (*gmail.Message, error) {
		return &gmail.Message{Id: id}, nil
	}}
	f, pauses := newTestFetcher(getter.get)

	all := ids(120)
	msgs, failed, err := f.fetchAll(context.Background(), all)
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, msgs, 120)
	for i, msg := range msgs {
		assert.Equal(t, all[i], msg.Id)
	}
	// three batches of 50, so two pauses between them
	assert.Equal(t, []time.Duration{fetchBatchPause, fetchBatchPause}, *pauses)
}

func TestBatchFetcherRetriesRateLimited(t *testing.T) {
	getter := &fakeGetter{respond: func(id string, attempt int) (*gmail.Message, error) {
		if id == "m001" && attempt == 1 {
			return nil, &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return &gmail.Message{Id: id}, nil
	}}
	f, pauses := newTestFetcher(getter.get)

	msgs, failed, err := f.fetchAll(context.Background(), ids(3))
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m001", msgs[1].Id)
	assert.Equal(t, 2, getter.attempts["m001"])
	assert.Equal(t, []time.Duration{retryDelay}, *pauses)
}

func TestBatchFetcherReportsOnlyRateLimitedFailures(t *testing.T) {
	getter := &fakeGetter{respond: func(id string, _ int) (*gmail.Message, error) {
		switch id {
		case "m000":
			return nil, &googleapi.Error{
				Code:   http.StatusForbidden,
				Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
			}
		case "m002":
			return nil, errors.New("boom")
		}
		return &gmail.Message{Id: id}, nil
	}}
	f, _ := newTestFetcher(getter.get)

	msgs, failed, err := f.fetchAll(context.Background(), ids(4))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	// plain errors are skipped, not carried into the next run
	assert.Equal(t, []string{"m000"}, failed)
	assert.Equal(t, 2, getter.attempts["m000"])
	assert.Equal(t, 1, getter.attempts["m002"])
}

func TestBatchFetcherRetryUsesSmallerBatches(t *testing.T) {
	getter := &fakeGetter{respond: func(id string, attempt int) (*gmail.Message, error) {
		if attempt == 1 {
			return nil, &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return &gmail.Message{Id: id}, nil
	}}
	f, pauses := newTestFetcher(getter.get)

	msgs, failed, err := f.fetchAll(context.Background(), ids(60))
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Len(t, msgs, 60)
	// one pause in the first pass, the retry delay, then two pauses for three retry batches of 25
	assert.Equal(t, []time.Duration{
		fetchBatchPause,
		retryDelay,
		retryBatchPause,
		retryBatchPause,
	}, *pauses)
}

func TestBatchFetcherStopsOnCancelledContext(t *testing.T) {
	getter := &fakeGetter{respond: func(id string, _ int) (*gmail.Message, error) {
		return &gmail.Message{Id: id}, nil
	}}
	f, _ := newTestFetcher(getter.get)
	f.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.fetchAll(ctx, ids(60))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, isRateLimited(&googleapi.Error{Code: 429}))
	assert.True(t, isRateLimited(fmt.Errorf("wrapped: %w", &googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}},
	})))
	assert.False(t, isRateLimited(&googleapi.Error{Code: 403}))
	assert.False(t, isRateLimited(&googleapi.Error{Code: 500}))
	assert.False(t, isRateLimited(errors.New("timeout")))
}

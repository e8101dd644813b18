package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRequester(t *testing.T, cfg FetchUnitConfig) *Requester {
	t.Helper()
	r, err := NewRequester("test_unit", cfg, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRequesterRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := newTestRequester(t, FetchUnitConfig{
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
	})

	body, err := r.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), body)
	require.EqualValues(t, 3, calls.Load())
}

func TestRequesterExhaustsBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	r := newTestRequester(t, FetchUnitConfig{
		MaxRetries:       2,
		RetryBackoffBase: time.Millisecond,
	})

	_, err := r.Get(context.Background(), srv.URL)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, ErrorTypeAntiBot, ClassifyError(err))
}

func TestRequesterSendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAgent = req.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := newTestRequester(t, FetchUnitConfig{
		Headers: map[string]string{"User-Agent": "pharos-harvester/1.0"},
	})

	_, err := r.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "pharos-harvester/1.0", gotAgent)
}

func TestRequesterStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestRequester(t, FetchUnitConfig{
		MaxRetries:       10,
		RetryBackoffBase: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := r.Get(ctx, srv.URL)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

package observability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/exreporter/pkg/aggregate"
)

func TestMetrics_ObserveReport(t *testing.T) {
	m := NewMetrics()
	m.ObserveReport(aggregate.ActionCreate, 20*time.Millisecond, nil)
	m.ObserveReport(aggregate.ActionComment, 10*time.Millisecond, nil)
	m.ObserveReport(aggregate.ActionComment, 10*time.Millisecond, nil)
	m.ObserveReport(aggregate.ActionSkip, time.Millisecond, errors.New("tracker down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reports.WithLabelValues("comment")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reports.WithLabelValues("skip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveReport(aggregate.ActionCreate, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `exreporter_reports_total{action="create"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetrics_Serve(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, addr, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}

package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/proxypool/internal/store"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

// fakeScheduler records the feedback call Pipe makes; it never needs a real
// node store since Pipe only calls ReportSuccess/ReportFailure.
type fakeScheduler struct {
	successNodeID  int64
	successRTMS    float64
	successCalled  bool
	failureNodeID  int64
	failureMsg     string
	failureCalled  bool
}

func (f *fakeScheduler) Pick(ctx context.Context) (*store.Node, error) { return nil, nil }

func (f *fakeScheduler) ReportSuccess(ctx context.Context, nodeID int64, responseTimeMS float64) error {
	f.successCalled = true
	f.successNodeID = nodeID
	f.successRTMS = responseTimeMS
	return nil
}

func (f *fakeScheduler) ReportFailure(ctx context.Context, nodeID int64, errMsg string) error {
	f.failureCalled = true
	f.failureNodeID = nodeID
	f.failureMsg = errMsg
	return nil
}

func (f *fakeScheduler) Name() string { return "fake" }

func TestPipeCopiesBothDirectionsAndReportsSuccess(t *testing.T) {
	clientSide, clientConn := net.Pipe()
	upstreamSide, upstreamConn := net.Pipe()

	upstreamBefore := testutil.ToFloat64(telemetry.RelayBytesTotal.WithLabelValues("upstream"))
	downstreamBefore := testutil.ToFloat64(telemetry.RelayBytesTotal.WithLabelValues("downstream"))

	sched := &fakeScheduler{}
	done := make(chan error, 1)
	go func() {
		done <- Pipe(context.Background(), clientConn, upstreamConn, sched, 42, time.Now())
	}()

	// client -> upstream
	go func() {
		_, _ = clientSide.Write([]byte("hello"))
	}()
	buf := make([]byte, 5)
	_, err := upstreamSide.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	// upstream -> client
	go func() {
		_, _ = upstreamSide.Write([]byte("world"))
	}()
	buf2 := make([]byte, 5)
	_, err = clientSide.Read(buf2)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf2))

	clientSide.Close()
	upstreamSide.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe did not return after both sides closed")
	}

	assert.True(t, sched.successCalled)
	assert.Equal(t, int64(42), sched.successNodeID)
	assert.False(t, sched.failureCalled)

	// "hello" went client->upstream, "world" went upstream->client.
	assert.Equal(t, upstreamBefore+5, testutil.ToFloat64(telemetry.RelayBytesTotal.WithLabelValues("upstream")))
	assert.Equal(t, downstreamBefore+5, testutil.ToFloat64(telemetry.RelayBytesTotal.WithLabelValues("downstream")))
}

func TestPipeReturnsAfterAbruptClose(t *testing.T) {
	clientSide, clientConn := net.Pipe()
	upstreamSide, upstreamConn := net.Pipe()

	sched := &fakeScheduler{}
	done := make(chan error, 1)
	go func() {
		done <- Pipe(context.Background(), clientConn, upstreamConn, sched, 7, time.Now())
	}()

	// Close both far ends abruptly while a client write may still be in
	// flight; depending on timing Pipe ends cleanly or with a RelayError, so
	// this only checks that it returns.
	go func() { _, _ = clientSide.Write([]byte("x")) }()
	upstreamSide.Close()
	clientSide.Close()

	select {
	case err := <-done:
		_ = err // either nil (both closed cleanly) or a RelayError
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe did not return after forced close")
	}
}

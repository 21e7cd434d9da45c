package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

const bufferSize = 8 * 1024

// Pipe runs a full-duplex byte copy between client and upstream until
// either direction returns EOF or an error, then closes both sides and
// reports the outcome to sched via ReportSuccess/ReportFailure. started is
// the time the upstream connection was established, used to compute the
// response time passed to ReportSuccess.
func Pipe(ctx context.Context, client, upstream net.Conn, sched scheduler.Scheduler, nodeID int64, started time.Time) error {
	errc := make(chan error, 2)

	// "upstream" direction is client->upstream (the request path); "downstream"
	// is upstream->client (the response path), matching the labels httpproxy
	// uses for its own (non-Pipe) plain-HTTP byte counts.
	go func() { errc <- copyBuf(upstream, client, "upstream") }()
	go func() { errc <- copyBuf(client, upstream, "downstream") }()

	// Wait for the first direction to finish, then tear down both sides so
	// the other copy unblocks on its next read/write.
	first := <-errc
	client.Close()
	upstream.Close()
	second := <-errc
	// The second copy normally unblocks because of the Close calls above;
	// that self-inflicted "closed" error is not a transport failure.
	if errors.Is(second, net.ErrClosed) || errors.Is(second, io.ErrClosedPipe) {
		second = nil
	}

	relayErr := first
	if relayErr == nil {
		relayErr = second
	}

	if relayErr == nil {
		elapsed := float64(time.Since(started).Milliseconds())
		_ = sched.ReportSuccess(ctx, nodeID, elapsed)
		return nil
	}

	_ = sched.ReportFailure(ctx, nodeID, relayErr.Error())
	return &RelayError{NodeID: nodeID, Err: relayErr}
}

// copyBuf copies src to dst with an 8 KiB buffer, reports the bytes moved
// under direction regardless of outcome, and treats a clean EOF as success
// (nil error).
func copyBuf(dst io.Writer, src io.Reader, direction string) error {
	buf := make([]byte, bufferSize)
	n, err := io.CopyBuffer(dst, src, buf)
	telemetry.RelayBytesTotal.WithLabelValues(direction).Add(float64(n))
	if err == io.EOF {
		return nil
	}
	return err
}

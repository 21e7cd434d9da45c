package httpproxy

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/store"
)

func TestReadRequestParsesLineAndHeaders(t *testing.T) {
	raw := "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n"
	reqLine, headers, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "GET", reqLine.method)
	assert.Equal(t, "http://example.com/", reqLine.target)
	assert.Equal(t, "HTTP/1.1", reqLine.version)
	assert.Len(t, headers, 2)
}

func TestReadRequestRejectsMalformedLine(t *testing.T) {
	_, _, err := readRequest(bufio.NewReader(strings.NewReader("garbage\r\n\r\n")))
	assert.Error(t, err)
}

func TestOriginTargetPrefersAbsoluteURL(t *testing.T) {
	host, port, err := originTarget("https://example.com:8443/path", nil)
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 8443, port)
}

func TestOriginTargetDefaultsHTTPSPortWhenOmitted(t *testing.T) {
	host, port, err := originTarget("https://example.com/path", nil)
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 443, port)
}

func TestOriginTargetFallsBackToHostHeader(t *testing.T) {
	host, port, err := originTarget("/path", []string{"Host: example.com:8080"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 8080, port)
}

func TestOriginTargetErrorsWithoutURLOrHost(t *testing.T) {
	_, _, err := originTarget("/path", nil)
	assert.Error(t, err)
}

func TestForwardRequestStripsProxyAndConnectionHeaders(t *testing.T) {
	client, upstream := net.Pipe()
	reqLine := requestLine{method: "GET", target: "http://example.com/x", version: "HTTP/1.1"}
	headers := []string{"Host: example.com", "Proxy-Connection: keep-alive", "Connection: keep-alive"}

	done := make(chan error, 1)
	go func() {
		done <- forwardRequest(client, bufio.NewReader(strings.NewReader("")), reqLine, headers, "example.com", 80)
	}()

	buf := make([]byte, 4096)
	upstream.SetReadDeadline(time.Now().Add(time.Second))
	n, err := upstream.Read(buf)
	require.NoError(t, err)
	out := string(buf[:n])

	assert.Contains(t, out, "GET /x HTTP/1.1\r\n")
	assert.Contains(t, out, "Host: example.com")
	assert.NotContains(t, out, "Proxy-Connection")
	assert.Contains(t, out, "Connection: close\r\n")
	require.NoError(t, <-done)
}

func TestHandleReturns502WhenNoUpstreamAvailable(t *testing.T) {
	s := store.NewMemoryStore() // empty pool
	reg := scheduler.NewRegistry(s)
	srv := &Server{Registry: reg}

	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handle(context.Background(), conn)
		close(done)
	}()

	go func() {
		_, _ = client.Write([]byte("GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	}()

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "502")

	<-done
}

func TestHandleReturns400OnMalformedRequestLine(t *testing.T) {
	s := store.NewMemoryStore()
	reg := scheduler.NewRegistry(s)
	srv := &Server{Registry: reg}

	client, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handle(context.Background(), conn)
		close(done)
	}()

	go func() {
		_, _ = client.Write([]byte("not a request\r\n\r\n"))
	}()

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "400")

	<-done
}

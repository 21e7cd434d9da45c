// Package httpproxy implements the plain-HTTP-and-CONNECT front-end:
// CONNECT tunneling for HTTPS and origin-form request forwarding for
// everything else.
package httpproxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/proxypool/internal/relay"
	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

const (
	maxHeaderLines = 256
	streamChunk    = 8 * 1024
)

// Server accepts plain-HTTP and CONNECT connections and relays them
// through the scheduler's chosen upstream node.
type Server struct {
	Registry *scheduler.Registry
	Log      *zap.SugaredLogger
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		telemetry.ActiveConnections.WithLabelValues("http").Inc()
		go func() {
			defer telemetry.ActiveConnections.WithLabelValues("http").Dec()
			s.handle(ctx, conn)
		}()
	}
}

type requestLine struct {
	method  string
	target  string
	version string
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	reqLine, headers, err := readRequest(reader)
	if err != nil {
		writeStatus(conn, 400, "Bad Request")
		s.logf(conn, &relay.ClientProtocolError{Reason: "malformed request", Err: err})
		return
	}

	if strings.EqualFold(reqLine.method, "CONNECT") {
		s.handleConnect(ctx, conn, reqLine)
		return
	}

	s.handlePlain(ctx, conn, reader, reqLine, headers)
}

func (s *Server) handleConnect(ctx context.Context, conn net.Conn, reqLine requestLine) {
	sched := s.Registry.Get()
	node, err := sched.Pick(ctx)
	if err != nil || node == nil {
		writeStatus(conn, 502, "Bad Gateway")
		s.logf(conn, &relay.NoUpstreamAvailable{})
		return
	}

	upstream, err := net.DialTimeout("tcp", node.Addr(), 10*time.Second)
	if err != nil {
		writeStatus(conn, 502, "Bad Gateway")
		_ = sched.ReportFailure(ctx, node.ID, err.Error())
		s.logf(conn, &relay.UpstreamDialError{NodeID: node.ID, Err: err})
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		upstream.Close()
		return
	}

	started := time.Now()
	if err := relay.Pipe(ctx, conn, upstream, sched, node.ID, started); err != nil {
		s.logf(conn, err)
	}
}

func (s *Server) handlePlain(ctx context.Context, conn net.Conn, reader *bufio.Reader, reqLine requestLine, headers []string) {
	host, port, err := originTarget(reqLine.target, headers)
	if err != nil {
		writeStatus(conn, 400, "Bad Request")
		s.logf(conn, &relay.ClientProtocolError{Reason: "cannot determine origin host", Err: err})
		return
	}

	sched := s.Registry.Get()
	node, err := sched.Pick(ctx)
	if err != nil || node == nil {
		writeStatus(conn, 502, "Bad Gateway")
		s.logf(conn, &relay.NoUpstreamAvailable{})
		return
	}

	upstream, err := net.DialTimeout("tcp", node.Addr(), 10*time.Second)
	if err != nil {
		writeStatus(conn, 502, "Bad Gateway")
		_ = sched.ReportFailure(ctx, node.ID, err.Error())
		s.logf(conn, &relay.UpstreamDialError{NodeID: node.ID, Err: err})
		return
	}
	defer upstream.Close()

	if err := forwardRequest(upstream, reader, reqLine, headers, host, port); err != nil {
		_ = sched.ReportFailure(ctx, node.ID, err.Error())
		s.logf(conn, &relay.RelayError{NodeID: node.ID, Err: err})
		return
	}

	n, err := io.CopyBuffer(conn, upstream, make([]byte, streamChunk))
	if err != nil {
		_ = sched.ReportFailure(ctx, node.ID, err.Error())
		s.logf(conn, &relay.RelayError{NodeID: node.ID, Err: err})
		return
	}
	telemetry.RelayBytesTotal.WithLabelValues("downstream").Add(float64(n))
	_ = sched.ReportSuccess(ctx, node.ID, 0)
}

func forwardRequest(upstream net.Conn, client *bufio.Reader, reqLine requestLine, headers []string, host string, port int) error {
	path := reqLine.target
	if u, err := url.Parse(reqLine.target); err == nil && u.IsAbs() {
		path = u.RequestURI()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s\r\n", reqLine.method, path, reqLine.version)

	contentLength := -1
	for _, h := range headers {
		lower := strings.ToLower(h)
		if strings.HasPrefix(lower, "proxy-") || strings.HasPrefix(lower, "connection:") {
			continue
		}
		if strings.HasPrefix(lower, "content-length:") {
			if n, err := strconv.Atoi(strings.TrimSpace(h[len("content-length:"):])); err == nil {
				contentLength = n
			}
		}
		fmt.Fprintf(&sb, "%s\r\n", h)
	}
	sb.WriteString("Connection: close\r\n\r\n")

	wn, err := io.WriteString(upstream, sb.String())
	if err != nil {
		return err
	}
	total := int64(wn)

	if contentLength > 0 {
		n, err := io.CopyN(upstream, client, int64(contentLength))
		total += n
		if err != nil {
			telemetry.RelayBytesTotal.WithLabelValues("upstream").Add(float64(total))
			return err
		}
	}
	telemetry.RelayBytesTotal.WithLabelValues("upstream").Add(float64(total))
	return nil
}

func originTarget(target string, headers []string) (string, int, error) {
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		host := u.Hostname()
		port := 80
		if u.Port() != "" {
			p, err := strconv.Atoi(u.Port())
			if err != nil {
				return "", 0, fmt.Errorf("invalid port in target %q", target)
			}
			port = p
		} else if u.Scheme == "https" {
			port = 443
		}
		if host != "" {
			return host, port, nil
		}
	}

	for _, h := range headers {
		if strings.HasPrefix(strings.ToLower(h), "host:") {
			hostHeader := strings.TrimSpace(h[len("host:"):])
			if hostPart, portPart, err := net.SplitHostPort(hostHeader); err == nil {
				p, err := strconv.Atoi(portPart)
				if err != nil {
					return "", 0, fmt.Errorf("invalid port in Host header %q", hostHeader)
				}
				return hostPart, p, nil
			}
			return hostHeader, 80, nil
		}
	}

	return "", 0, fmt.Errorf("no absolute URL or Host header present")
}

func readRequest(reader *bufio.Reader) (requestLine, []string, error) {
	line, err := readCRLFLine(reader)
	if err != nil {
		return requestLine{}, nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return requestLine{}, nil, fmt.Errorf("malformed request line %q", line)
	}
	reqLine := requestLine{method: parts[0], target: parts[1], version: parts[2]}

	var headers []string
	for i := 0; i < maxHeaderLines; i++ {
		h, err := readCRLFLine(reader)
		if err != nil {
			return requestLine{}, nil, err
		}
		if h == "" {
			return reqLine, headers, nil
		}
		headers = append(headers, h)
	}
	return requestLine{}, nil, fmt.Errorf("too many header lines")
}

func readCRLFLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeStatus(conn net.Conn, code int, reason string) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n\r\n", code, reason)
}

func (s *Server) logf(conn net.Conn, err error) {
	if s.Log == nil || err == nil {
		return
	}
	s.Log.Debugw("http proxy connection ended", "remote_addr", conn.RemoteAddr().String(), "error", err)
}

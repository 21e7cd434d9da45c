// Package socks5 implements the RFC 1928 subset front-end: method
// negotiation, CONNECT-only requests, and ATYP 1/3/4 target parsing.
package socks5

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/proxypool/internal/relay"
	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

const (
	version = 0x05

	methodNoAuth      = 0x00
	methodNoAcceptable = 0xFF

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySucceeded     = 0x00
	replyGeneralFail   = 0x01
	replyCmdNotSupported = 0x07
	replyAtypNotSupported = 0x08
)

// Target is the parsed SOCKS5 CONNECT destination, kept alongside the
// connection so a future per-protocol upstream handshake could use it.
type Target struct {
	ATYP byte
	Host string
	Port uint16
}

// Server accepts SOCKS5 connections and relays them through the scheduler's
// chosen upstream node.
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
		telemetry.ActiveConnections.WithLabelValues("socks5").Inc()
		go func() {
			defer telemetry.ActiveConnections.WithLabelValues("socks5").Dec()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := s.negotiate(conn); err != nil {
		s.logf(conn, err)
		return
	}

	target, err := s.readRequest(conn)
	if err != nil {
		s.logf(conn, err)
		return
	}

	sched := s.Registry.Get()
	node, err := sched.Pick(ctx)
	if err != nil || node == nil {
		writeReply(conn, replyGeneralFail)
		s.logf(conn, &relay.NoUpstreamAvailable{})
		return
	}

	upstream, err := net.DialTimeout("tcp", node.Addr(), 10*time.Second)
	if err != nil {
		writeReply(conn, replyGeneralFail)
		_ = sched.ReportFailure(ctx, node.ID, err.Error())
		s.logf(conn, &relay.UpstreamDialError{NodeID: node.ID, Err: err})
		return
	}

	if err := writeReply(conn, replySucceeded); err != nil {
		upstream.Close()
		return
	}

	_ = target // reserved for a future per-protocol handshake (see design notes)
	started := time.Now()
	if err := relay.Pipe(ctx, conn, upstream, sched, node.ID, started); err != nil {
		s.logf(conn, err)
	}
}

func (s *Server) negotiate(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return &relay.ClientProtocolError{Reason: "read method negotiation header", Err: err}
	}
	if header[0] != version {
		return &relay.ClientProtocolError{Reason: fmt.Sprintf("unsupported version %d", header[0])}
	}
	nmethods := int(header[1])
	methods := make([]byte, nmethods)
	if nmethods > 0 {
		if _, err := io.ReadFull(conn, methods); err != nil {
			return &relay.ClientProtocolError{Reason: "read method list", Err: err}
		}
	}

	hasNoAuth := false
	for _, m := range methods {
		if m == methodNoAuth {
			hasNoAuth = true
			break
		}
	}
	if !hasNoAuth {
		conn.Write([]byte{version, methodNoAcceptable})
		return &relay.ClientProtocolError{Reason: "no acceptable auth method"}
	}

	_, err := conn.Write([]byte{version, methodNoAuth})
	return err
}

func (s *Server) readRequest(conn net.Conn) (Target, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return Target{}, &relay.ClientProtocolError{Reason: "read request header", Err: err}
	}
	if header[0] != version {
		return Target{}, &relay.ClientProtocolError{Reason: fmt.Sprintf("unsupported version %d", header[0])}
	}
	if header[1] != cmdConnect {
		writeReply(conn, replyCmdNotSupported)
		return Target{}, &relay.ClientProtocolError{Reason: "only CONNECT is supported"}
	}

	atyp := header[3]
	var host string
	switch atyp {
	case atypIPv4:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return Target{}, &relay.ClientProtocolError{Reason: "read IPv4 address", Err: err}
		}
		host = net.IP(addr).String()
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return Target{}, &relay.ClientProtocolError{Reason: "read domain length", Err: err}
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return Target{}, &relay.ClientProtocolError{Reason: "read domain", Err: err}
		}
		host = string(domain)
	case atypIPv6:
		addr := make([]byte, 16)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return Target{}, &relay.ClientProtocolError{Reason: "read IPv6 address", Err: err}
		}
		host = net.IP(addr).String()
	default:
		writeReply(conn, replyAtypNotSupported)
		return Target{}, &relay.ClientProtocolError{Reason: fmt.Sprintf("unsupported ATYP %d", atyp)}
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return Target{}, &relay.ClientProtocolError{Reason: "read port", Err: err}
	}

	return Target{ATYP: atyp, Host: host, Port: binary.BigEndian.Uint16(portBuf)}, nil
}

func writeReply(conn net.Conn, rep byte) error {
	frame := []byte{version, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(frame)
	return err
}

func (s *Server) logf(conn net.Conn, err error) {
	if s.Log == nil || err == nil {
		return
	}
	s.Log.Debugw("socks5 connection ended", "remote_addr", conn.RemoteAddr().String(), "error", err)
}

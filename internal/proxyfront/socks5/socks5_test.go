package socks5

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateSucceedsWithNoAuthMethod(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	replyc := make(chan []byte, 1)
	go func() {
		_, _ = client.Write([]byte{0x05, 0x01, 0x00})
		buf := make([]byte, 2)
		_, _ = client.Read(buf)
		replyc <- buf
	}()

	err := s.negotiate(srv)
	require.NoError(t, err)

	select {
	case reply := <-replyc:
		assert.Equal(t, []byte{version, methodNoAuth}, reply)
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestNegotiateRejectsUnsupportedVersion(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	go func() {
		_, _ = client.Write([]byte{0x04, 0x00})
	}()

	err := s.negotiate(srv)
	assert.Error(t, err)
}

func TestNegotiateRejectsWhenNoAuthNotOffered(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	replyc := make(chan []byte, 1)
	go func() {
		_, _ = client.Write([]byte{0x05, 0x01, 0x02}) // only method 0x02 offered
		buf := make([]byte, 2)
		_, _ = client.Read(buf)
		replyc <- buf
	}()

	err := s.negotiate(srv)
	assert.Error(t, err)

	select {
	case reply := <-replyc:
		assert.Equal(t, []byte{version, methodNoAcceptable}, reply)
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestReadRequestRejectsNonConnectCommand(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	go func() {
		// CMD=0x02 (BIND); server errors out right after reading the 4-byte
		// header, before reading any address bytes.
		_, _ = client.Write([]byte{0x05, 0x02, 0x00, atypIPv4})
		buf := make([]byte, 10)
		_, _ = client.Read(buf)
	}()

	_, err := s.readRequest(srv)
	assert.Error(t, err)
}

func TestReadRequestRejectsUnsupportedATYP(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	go func() {
		_, _ = client.Write([]byte{0x05, cmdConnect, 0x00, 0x02}) // ATYP 0x02 is invalid
		buf := make([]byte, 10)
		_, _ = client.Read(buf)
	}()

	_, err := s.readRequest(srv)
	assert.Error(t, err)
}

func TestReadRequestParsesIPv4Target(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	go func() {
		_, _ = client.Write([]byte{0x05, cmdConnect, 0x00, atypIPv4, 93, 184, 216, 34, 0, 80})
	}()

	target, err := s.readRequest(srv)
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", target.Host)
	assert.Equal(t, uint16(80), target.Port)
}

func TestReadRequestParsesDomainTarget(t *testing.T) {
	client, srv := net.Pipe()
	s := &Server{}

	domain := "example.com"
	req := []byte{0x05, cmdConnect, 0x00, atypDomain, byte(len(domain))}
	req = append(req, []byte(domain)...)
	req = append(req, 0x01, 0xBB) // port 443

	go func() {
		_, _ = client.Write(req)
	}()

	target, err := s.readRequest(srv)
	require.NoError(t, err)
	assert.Equal(t, domain, target.Host)
	assert.Equal(t, uint16(443), target.Port)
}

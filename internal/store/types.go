package store

import (
	"net"
	"strconv"
	"time"
)

// Protocol identifies the upstream's own wire protocol. It is recorded for
// operator visibility and filtering; front-ends currently dial every node as
// a transparent TCP forwarder regardless of Protocol (see DESIGN.md, open
// question 1).
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

// FailureResponseTimeMS is the canonical sentinel recorded for a probe that
// did not complete successfully.
const FailureResponseTimeMS = 10000.0

// Node is the persistent upstream proxy entity (ProxyNode in the spec).
type Node struct {
	ID                  int64
	Name                string
	Host                string
	Port                uint16
	Protocol            Protocol
	Username            string
	Password            string
	IsActive            bool
	IsHealthy           bool
	ResponseTimeMS      float64
	SuccessRate         float64
	Weight              int
	MaxConnections      int
	CurrentConnections  int
	Country             string
	Region              string
	Tags                string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastCheck           *time.Time
}

// Addr returns the host:port dial target for this node.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port)))
}

// Clamp helpers shared by every writer of Node state (store backends and
// scheduler feedback paths) so the invariants in spec.md §3 hold no matter
// which caller mutates the row.

// ClampSuccessRate keeps success_rate within [0, 100].
func ClampSuccessRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SaturatingDecrement decrements a connection gauge without going negative.
func SaturatingDecrement(v int) int {
	if v <= 0 {
		return 0
	}
	return v - 1
}

// HealthCheckResult is the transient outcome of a single probe.
type HealthCheckResult struct {
	NodeID         int64
	Success        bool
	ResponseTimeMS float64
	Error          string
	Timestamp      time.Time
}

// Filters narrows a List query. A nil/zero field means "no constraint on
// this attribute"; all present filters are ANDed together.
type Filters struct {
	IsActive  *bool
	IsHealthy *bool
	Protocol  *Protocol
	Country   *string
	Search    *string // matched against host OR name OR tags
}

// Patch is a sparse set of fields to apply to an existing node. Only
// non-nil fields mutate the row.
type Patch struct {
	Name               *string
	Host               *string
	Port               *uint16
	Protocol           *Protocol
	Username           *string
	Password           *string
	IsActive           *bool
	IsHealthy          *bool
	ResponseTimeMS     *float64
	SuccessRate        *float64
	Weight             *int
	MaxConnections     *int
	CurrentConnections *int
	Country            *string
	Region             *string
	Tags               *string
	LastCheck          *time.Time
}

// Stats is the aggregate shape returned by Store.Statistics.
type Stats struct {
	Total                int
	Active               int
	HealthyAndActive     int
	MeanResponseTimeMS   float64
	ByProtocol           map[Protocol]int
	ByCountry            map[string]int
}

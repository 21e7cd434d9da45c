package adminapi

import (
	"time"

	"github.com/nodeforge/proxypool/internal/store"
)

// nodeDTO mirrors the ProxyNode JSON wire shape documented in spec.md §3/§6.
type nodeDTO struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Host               string     `json:"host"`
	Port               uint16     `json:"port"`
	Protocol           string     `json:"protocol"`
	Username           string     `json:"username,omitempty"`
	Password           string     `json:"password,omitempty"`
	IsActive           bool       `json:"is_active"`
	IsHealthy          bool       `json:"is_healthy"`
	ResponseTimeMS     float64    `json:"response_time_ms"`
	SuccessRate        float64    `json:"success_rate"`
	Weight             int        `json:"weight"`
	MaxConnections     int        `json:"max_connections"`
	CurrentConnections int        `json:"current_connections"`
	Country            string     `json:"country,omitempty"`
	Region             string     `json:"region,omitempty"`
	Tags               string     `json:"tags,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastCheck          *time.Time `json:"last_check,omitempty"`
}

func toDTO(n *store.Node) nodeDTO {
	return nodeDTO{
		ID:                 n.ID,
		Name:               n.Name,
		Host:               n.Host,
		Port:               n.Port,
		Protocol:           string(n.Protocol),
		Username:           n.Username,
		Password:           n.Password,
		IsActive:           n.IsActive,
		IsHealthy:          n.IsHealthy,
		ResponseTimeMS:     n.ResponseTimeMS,
		SuccessRate:        n.SuccessRate,
		Weight:             n.Weight,
		MaxConnections:     n.MaxConnections,
		CurrentConnections: n.CurrentConnections,
		Country:            n.Country,
		Region:             n.Region,
		Tags:               n.Tags,
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
		LastCheck:          n.LastCheck,
	}
}

// createNodeRequest is the JSON body for POST /api/nodes. An omitted weight
// or max_connections defaults to 1 or 100, and an empty protocol to http.
type createNodeRequest struct {
	Name           string `json:"name"`
	Host           string `json:"host"`
	Port           uint16 `json:"port"`
	Protocol       string `json:"protocol"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Weight         *int   `json:"weight"`
	MaxConnections *int   `json:"max_connections"`
	Country        string `json:"country"`
	Region         string `json:"region"`
	Tags           string `json:"tags"`
}

func (r createNodeRequest) toNode() *store.Node {
	weight := 1
	if r.Weight != nil {
		weight = *r.Weight
	}
	maxConn := 100
	if r.MaxConnections != nil {
		maxConn = *r.MaxConnections
	}
	protocol := store.Protocol(r.Protocol)
	if protocol == "" {
		protocol = store.ProtocolHTTP
	}
	return &store.Node{
		Name:           r.Name,
		Host:           r.Host,
		Port:           r.Port,
		Protocol:       protocol,
		Username:       r.Username,
		Password:       r.Password,
		IsActive:       true,
		Weight:         weight,
		MaxConnections: maxConn,
		Country:        r.Country,
		Region:         r.Region,
		Tags:           r.Tags,
	}
}

// patchNodeRequest is the JSON body for PUT /api/nodes/{id}; every field is
// a pointer so only explicitly-present keys become a sparse store.Patch.
type patchNodeRequest struct {
	Name           *string `json:"name"`
	Host           *string `json:"host"`
	Port           *uint16 `json:"port"`
	Protocol       *string `json:"protocol"`
	Username       *string `json:"username"`
	Password       *string `json:"password"`
	IsActive       *bool   `json:"is_active"`
	Weight         *int    `json:"weight"`
	MaxConnections *int    `json:"max_connections"`
	Country        *string `json:"country"`
	Region         *string `json:"region"`
	Tags           *string `json:"tags"`
}

func (r patchNodeRequest) toPatch() store.Patch {
	var protocol *store.Protocol
	if r.Protocol != nil {
		p := store.Protocol(*r.Protocol)
		protocol = &p
	}
	return store.Patch{
		Name:           r.Name,
		Host:           r.Host,
		Port:           r.Port,
		Protocol:       protocol,
		Username:       r.Username,
		Password:       r.Password,
		IsActive:       r.IsActive,
		Weight:         r.Weight,
		MaxConnections: r.MaxConnections,
		Country:        r.Country,
		Region:         r.Region,
		Tags:           r.Tags,
	}
}

type statsDTO struct {
	Total              int            `json:"total"`
	Active             int            `json:"active"`
	HealthyAndActive   int            `json:"healthy_and_active"`
	MeanResponseTimeMS float64        `json:"mean_response_time_ms"`
	ByProtocol         map[string]int `json:"by_protocol"`
	ByCountry          map[string]int `json:"by_country"`
}

func toStatsDTO(s store.Stats) statsDTO {
	byProtocol := make(map[string]int, len(s.ByProtocol))
	for k, v := range s.ByProtocol {
		byProtocol[string(k)] = v
	}
	return statsDTO{
		Total:              s.Total,
		Active:             s.Active,
		HealthyAndActive:   s.HealthyAndActive,
		MeanResponseTimeMS: s.MeanResponseTimeMS,
		ByProtocol:         byProtocol,
		ByCountry:          s.ByCountry,
	}
}

type schedulerDTO struct {
	Name string `json:"name"`
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Session struct {
	ID              string
	AgentActive     bool
	CLIFallback     bool
	DiscoveryActive bool
	ScanningActive  bool
	Scale           string // "" when no scale is selected
	Page            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Message struct {
	ID        string
	SessionID string
	Role      string // "user", "agent", "system"
	Text      string
	Topic     string
	Persona   string
	CreatedAt time.Time
}

type IPRange struct {
	ID              string
	SessionID       string
	Name            string
	CIDR            string
	Location        string
	Organization    string
	Status          string
	Devices         int
	Services        int
	Vulnerabilities int
	Bandwidth       string
}

// Counts summarises the store contents.
type Counts struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
	Ranges   int `json:"ranges"`
}

package session

import (
	"fmt"
	"strings"
)

// Scale is the deployment scale the dashboard is configured for.
type Scale string

const (
	ScaleNone       Scale = ""
	ScaleIndividual Scale = "individual"
	ScaleBusiness   Scale = "business"
	ScaleEnterprise Scale = "enterprise"
)

// Scales lists the selectable scales in display order.
var Scales = []Scale{ScaleIndividual, ScaleBusiness, ScaleEnterprise}

// String renders the scale, using "none" for the unset value.
func (s Scale) String() string {
	if s == ScaleNone {
		return "none"
	}
	return string(s)
}

// ParseScale accepts a scale name case-insensitively. "none" and the empty
// string both parse to ScaleNone.
func ParseScale(v string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none":
		return ScaleNone, nil
	case "individual":
		return ScaleIndividual, nil
	case "business":
		return ScaleBusiness, nil
	case "enterprise":
		return ScaleEnterprise, nil
	}
	return ScaleNone, fmt.Errorf("unknown scale %q", v)
}

// State is the cross-call state of one chat session.
type State struct {
	AgentActive     bool   `json:"agent_active"`
	CLIFallback     bool   `json:"cli_fallback"`
	DiscoveryActive bool   `json:"discovery_active"`
	ScanningActive  bool   `json:"scanning_active"`
	Scale           Scale  `json:"scale"`
	Page            string `json:"page"`
}

// Default returns the state a fresh session starts in.
func Default() State {
	return State{
		AgentActive:     true,
		DiscoveryActive: true,
		ScanningActive:  true,
		Page:            "dashboard",
	}
}

// Degraded reports whether input bypasses the agent and goes to the CLI table.
func (s State) Degraded() bool {
	return !s.AgentActive || s.CLIFallback
}

// Delta is a partial state update. Nil fields are left untouched.
type Delta struct {
	AgentActive     *bool  `json:"agent_active,omitempty"`
	CLIFallback     *bool  `json:"cli_fallback,omitempty"`
	DiscoveryActive *bool  `json:"discovery_active,omitempty"`
	ScanningActive  *bool  `json:"scanning_active,omitempty"`
	Scale           *Scale `json:"scale,omitempty"`
}

// Empty reports whether applying d would change nothing.
func (d Delta) Empty() bool {
	return d.AgentActive == nil && d.CLIFallback == nil && d.DiscoveryActive == nil &&
		d.ScanningActive == nil && d.Scale == nil
}

// Apply returns s with d applied. s is not modified.
func (d Delta) Apply(s State) State {
	if d.AgentActive != nil {
		s.AgentActive = *d.AgentActive
	}
	if d.CLIFallback != nil {
		s.CLIFallback = *d.CLIFallback
	}
	if d.DiscoveryActive != nil {
		s.DiscoveryActive = *d.DiscoveryActive
	}
	if d.ScanningActive != nil {
		s.ScanningActive = *d.ScanningActive
	}
	if d.Scale != nil {
		s.Scale = *d.Scale
	}
	return s
}

// Bool returns a pointer to v, for building deltas.
func Bool(v bool) *bool { return &v }

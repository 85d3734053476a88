package session

import "testing"

func TestDefault(t *testing.T) {
	s := Default()
	if !s.AgentActive || !s.DiscoveryActive || !s.ScanningActive {
		t.Errorf("Default() = %+v, want agent, discovery and scanning active", s)
	}
	if s.CLIFallback {
		t.Error("Default().CLIFallback = true, want false")
	}
	if s.Scale != ScaleNone {
		t.Errorf("Default().Scale = %q, want none", s.Scale)
	}
	if s.Degraded() {
		t.Error("Default() should not be degraded")
	}
}

func TestDegraded(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"agent active", State{AgentActive: true}, false},
		{"agent off", State{}, true},
		{"cli fallback", State{AgentActive: true, CLIFallback: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Degraded(); got != tt.want {
				t.Errorf("Degraded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeltaApply(t *testing.T) {
	base := State{AgentActive: false, CLIFallback: true, Scale: ScaleBusiness}
	scale := ScaleEnterprise
	d := Delta{AgentActive: Bool(true), CLIFallback: Bool(false), Scale: &scale}

	got := d.Apply(base)
	if !got.AgentActive || got.CLIFallback || got.Scale != ScaleEnterprise {
		t.Errorf("Apply() = %+v", got)
	}
	if base.AgentActive || !base.CLIFallback {
		t.Error("Apply() modified its input")
	}
	if got.DiscoveryActive != base.DiscoveryActive {
		t.Error("nil field should be left untouched")
	}
}

func TestDeltaEmpty(t *testing.T) {
	if !(Delta{}).Empty() {
		t.Error("zero Delta should be empty")
	}
	if (Delta{ScanningActive: Bool(false)}).Empty() {
		t.Error("Delta with a field set should not be empty")
	}
}

func TestParseScale(t *testing.T) {
	tests := []struct {
		in      string
		want    Scale
		wantErr bool
	}{
		{"individual", ScaleIndividual, false},
		{"Business", ScaleBusiness, false},
		{" ENTERPRISE ", ScaleEnterprise, false},
		{"none", ScaleNone, false},
		{"", ScaleNone, false},
		{"galactic", ScaleNone, true},
	}
	for _, tt := range tests {
		got, err := ParseScale(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScale(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScale(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScaleString(t *testing.T) {
	if ScaleNone.String() != "none" {
		t.Errorf("ScaleNone.String() = %q", ScaleNone.String())
	}
	if ScaleBusiness.String() != "business" {
		t.Errorf("ScaleBusiness.String() = %q", ScaleBusiness.String())
	}
}

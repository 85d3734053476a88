package catalog

import (
	"strings"
	"testing"

	"github.com/kalambet/sentinelx/internal/session"
)

func TestDefaultParses(t *testing.T) {
	c := Default()
	if c.Version != "2.0-hybrid" {
		t.Errorf("Version = %q, want 2.0-hybrid", c.Version)
	}
	for _, topic := range []string{"threats", "network", "encryption", "defense", "analytics", "logs"} {
		if got := len(c.Pools[topic]); got != 3 {
			t.Errorf("pool %q has %d entries, want 3", topic, got)
		}
	}
	if got := len(c.Pools["general"]); got != 1 {
		t.Errorf("general pool has %d entries, want 1", got)
	}
}

func TestValidateRejectsShortPools(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		pool  []string
		want  string
	}{
		{"missing topic", "defense", nil, `pool "defense" has 0 replies`},
		{"too few", "logs", []string{"LogAgent: one", "LogAgent: two"}, `pool "logs" has 2 replies`},
		{"too many", "threats", []string{"a", "b", "c", "d"}, `pool "threats" has 4 replies`},
		{"empty general", "general", nil, "general pool is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *Default()
			c.Pools = make(map[string][]string, len(Default().Pools))
			for k, v := range Default().Pools {
				c.Pools[k] = v
			}
			if tt.pool == nil {
				delete(c.Pools, tt.topic)
			} else {
				c.Pools[tt.topic] = tt.pool
			}

			err := c.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestPoolsCarryPersonaPrefix(t *testing.T) {
	prefixes := map[string]string{
		"threats":    "ThreatScanner:",
		"network":    "NetworkMapper:",
		"encryption": "EncryptionManager:",
		"defense":    "DefenseOrchestrator:",
		"analytics":  "AnalyticsEngine:",
		"logs":       "LogAgent:",
		"general":    "Main Agent:",
	}
	c := Default()
	for topic, prefix := range prefixes {
		for _, s := range c.Pools[topic] {
			if !strings.HasPrefix(s, prefix) {
				t.Errorf("pool %q entry %q missing prefix %q", topic, s, prefix)
			}
		}
	}
}

func TestFallbacks(t *testing.T) {
	c := Default()
	if got := c.Pool("settings"); len(got) != 1 || !strings.HasPrefix(got[0], "Main Agent:") {
		t.Errorf("Pool(unknown) = %v, want the general pool", got)
	}
	if got := c.HelpFor("logs"); got[0] != "status" {
		t.Errorf("HelpFor(logs) = %v, want the general listing", got)
	}
	if got := c.HelpFor("threats"); got[2] != "quarantine [IP]" {
		t.Errorf("HelpFor(threats)[2] = %q", got[2])
	}
}

func TestScales(t *testing.T) {
	c := Default()
	tests := []struct {
		scale      session.Scale
		ranges     int
		devices    int
		maxRanges  int
		rangeTotal int
	}{
		{session.ScaleIndividual, 1, 4, 2, 1},
		{session.ScaleBusiness, 3, 5, 10, 127},
		{session.ScaleEnterprise, 5, 5, 0, 2472},
	}
	for _, tt := range tests {
		cfg, ok := c.Scale(tt.scale)
		if !ok {
			t.Fatalf("Scale(%q) missing", tt.scale)
		}
		if len(cfg.Ranges) != tt.ranges {
			t.Errorf("%s: %d ranges, want %d", tt.scale, len(cfg.Ranges), tt.ranges)
		}
		if len(cfg.Devices) != tt.devices {
			t.Errorf("%s: %d devices, want %d", tt.scale, len(cfg.Devices), tt.devices)
		}
		if cfg.MaxRanges != tt.maxRanges {
			t.Errorf("%s: MaxRanges = %d, want %d", tt.scale, cfg.MaxRanges, tt.maxRanges)
		}
		total := 0
		for _, r := range cfg.Ranges {
			total += r.Devices
		}
		if total != tt.rangeTotal {
			t.Errorf("%s: device total = %d, want %d", tt.scale, total, tt.rangeTotal)
		}
	}
}

func TestParseRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", "pools: [unclosed"},
		{"no general pool", "pools:\n  threats: [a]\n"},
		{"no scales", "pools:\n  general: [a]\nhelp:\n  general: [status]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse() error = nil, want error")
			}
		})
	}
}

// Package catalog holds the fixed texts and fixtures the simulator draws
// from: per-topic response pools, help listings, CLI tables, and the
// per-scale network inventory.
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/sentinelx/internal/session"
)

//go:embed catalog.yaml
var defaultYAML []byte

// Catalog is the parsed form of catalog.yaml.
type Catalog struct {
	Version    string                        `yaml:"version"`
	APIVersion string                        `yaml:"api_version"`
	Pools      map[string][]string           `yaml:"pools"`
	Help       map[string][]string           `yaml:"help"`
	CLI        CLITexts                      `yaml:"cli"`
	Scales     map[session.Scale]ScaleConfig `yaml:"scales"`
	Scenarios  []Scenario                    `yaml:"scenarios"`
}

// CLITexts are the static listings used by the CLI fallback table.
type CLITexts struct {
	Help    []string `yaml:"help"`
	Threats []string `yaml:"threats"`
}

// ScaleConfig describes one deployment scale.
type ScaleConfig struct {
	Label        string    `yaml:"label"`
	ChatContext  string    `yaml:"chat_context"`
	RangeNoun    string    `yaml:"range_noun"`
	MaxRanges    int       `yaml:"max_ranges"` // 0 means unlimited
	DeviceRange  [2]int    `yaml:"device_range"`
	ServiceRange [2]int    `yaml:"service_range"`
	Ranges       []IPRange `yaml:"ranges"`
	Devices      []Device  `yaml:"devices"`
}

// IPRange is a monitored address range.
type IPRange struct {
	ID              string `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	CIDR            string `yaml:"cidr" json:"cidr"`
	Location        string `yaml:"location" json:"location"`
	Organization    string `yaml:"organization" json:"organization"`
	Status          string `yaml:"status" json:"status"`
	Devices         int    `yaml:"devices" json:"devices"`
	Services        int    `yaml:"services" json:"services"`
	Vulnerabilities int    `yaml:"vulnerabilities" json:"vulnerabilities"`
	Bandwidth       string `yaml:"bandwidth" json:"bandwidth"`
}

// Device is a discovered internal device.
type Device struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	IP         string `yaml:"ip" json:"ip"`
	Type       string `yaml:"type" json:"type"`
	Services   string `yaml:"services" json:"services"`
	Status     string `yaml:"status" json:"status"`
	Encryption string `yaml:"encryption" json:"encryption"`
}

// Scenario is one canned outcome of the simulated auto-scan.
type Scenario struct {
	Scale          session.Scale `yaml:"scale" json:"scale"`
	Confidence     int           `yaml:"confidence" json:"confidence"`
	PublicIPs      int           `yaml:"public_ips" json:"public_ips"`
	Services       int           `yaml:"services" json:"services"`
	Complexity     string        `yaml:"complexity" json:"complexity"`
	Infrastructure string        `yaml:"infrastructure" json:"infrastructure"`
	Recommendation string        `yaml:"recommendation" json:"recommendation"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// agentTopics each carry a pool of exactly poolSize canned replies.
var agentTopics = []string{"threats", "network", "encryption", "defense", "analytics", "logs"}

const poolSize = 3

func (c *Catalog) validate() error {
	for _, topic := range agentTopics {
		if n := len(c.Pools[topic]); n != poolSize {
			return fmt.Errorf("catalog: pool %q has %d replies, want %d", topic, n, poolSize)
		}
	}
	if len(c.Pools["general"]) == 0 {
		return fmt.Errorf("catalog: general pool is empty")
	}
	if len(c.Help["general"]) == 0 {
		return fmt.Errorf("catalog: general help listing is empty")
	}
	for _, s := range session.Scales {
		cfg, ok := c.Scales[s]
		if !ok {
			return fmt.Errorf("catalog: missing scale %q", s)
		}
		if cfg.DeviceRange[1] <= cfg.DeviceRange[0] || cfg.ServiceRange[1] <= cfg.ServiceRange[0] {
			return fmt.Errorf("catalog: scale %q has an empty device or service range", s)
		}
	}
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("catalog: no scan scenarios")
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog. It panics if the embedded document
// is malformed, which the package tests rule out.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultYAML)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// Pool returns the response pool for a topic, falling back to the general pool.
func (c *Catalog) Pool(topic string) []string {
	if p := c.Pools[topic]; len(p) > 0 {
		return p
	}
	return c.Pools["general"]
}

// HelpFor returns the help listing for a topic, falling back to the general listing.
func (c *Catalog) HelpFor(topic string) []string {
	if h := c.Help[topic]; len(h) > 0 {
		return h
	}
	return c.Help["general"]
}

// Scale returns the config for s.
func (c *Catalog) Scale(s session.Scale) (ScaleConfig, bool) {
	cfg, ok := c.Scales[s]
	return cfg, ok
}

package network

import (
	"fmt"

	"github.com/kalambet/sentinelx/internal/catalog"
	"github.com/kalambet/sentinelx/internal/session"
)

// Exposure is the threat exposure rating derived from open vulnerabilities.
type Exposure string

const (
	ExposureLow    Exposure = "LOW"
	ExposureMedium Exposure = "MEDIUM"
	ExposureHigh   Exposure = "HIGH"
)

// ExposureFor rates a vulnerability total.
func ExposureFor(vulns int) Exposure {
	switch {
	case vulns > 5:
		return ExposureHigh
	case vulns > 0:
		return ExposureMedium
	default:
		return ExposureLow
	}
}

// Metrics are the inventory totals shown on the dashboard.
type Metrics struct {
	Scale           session.Scale `json:"scale"`
	Ranges          int           `json:"ranges"`
	Devices         int           `json:"devices"`
	Services        int           `json:"services"`
	Vulnerabilities int           `json:"vulnerabilities"`
	Exposure        Exposure      `json:"exposure"`
}

// Metrics sums the monitored ranges.
func (inv *Inventory) Metrics() Metrics {
	m := Metrics{Scale: inv.scale, Ranges: len(inv.ranges)}
	for _, r := range inv.ranges {
		m.Devices += r.Devices
		m.Services += r.Services
		m.Vulnerabilities += r.Vulnerabilities
	}
	m.Exposure = ExposureFor(m.Vulnerabilities)
	return m
}

// Recommend simulates the environment auto-scan by picking one of the
// catalog's scan scenarios.
func Recommend(cat *catalog.Catalog, rnd Rand) catalog.Scenario {
	if cat == nil {
		cat = catalog.Default()
	}
	return cat.Scenarios[rnd.IntN(len(cat.Scenarios))]
}

// ConfiguredMessage is posted after a scale is selected.
func (inv *Inventory) ConfiguredMessage() string {
	cfg, _ := inv.cat.Scale(inv.scale)
	return fmt.Sprintf("NetworkMapper: Configured for %s. Monitoring %d %s with %d devices. Hybrid-resistant encryption active. Ready for %s deployment.",
		cfg.ChatContext, len(inv.ranges), cfg.RangeNoun, inv.Metrics().Devices, inv.scale)
}

// AddedMessage is posted once discovery starts on a new range.
func (inv *Inventory) AddedMessage(r catalog.IPRange) string {
	return fmt.Sprintf("NetworkMapper: New %s range %s (%s) added to monitoring. Initiating discovery scan across %d estimated devices...",
		inv.scale, r.Name, r.CIDR, r.Devices)
}

// ScanningMessage reports a scanning toggle.
func ScanningMessage(s session.Scale, active bool) string {
	verb := "paused"
	mode := "PAUSED"
	if active {
		verb, mode = "resumed", "ACTIVE"
	}
	return fmt.Sprintf("NetworkMapper: %s scanning %s. Discovery mode: %s.", s, verb, mode)
}

// DescribeRange is the NetworkMapper analysis of one range.
func DescribeRange(r catalog.IPRange) string {
	return fmt.Sprintf("NetworkMapper: Analyzing %s (%s) in %s. %d devices, %d services, %d vulnerabilities. Bandwidth: %s.",
		r.Name, r.CIDR, r.Location, r.Devices, r.Services, r.Vulnerabilities, r.Bandwidth)
}

// DescribeDevice is the NetworkMapper summary of one device.
func DescribeDevice(d catalog.Device) string {
	return fmt.Sprintf("NetworkMapper: Device %s (%s) - %s. Services: %s. Status: %s. Encryption: %s.",
		d.Name, d.IP, d.Type, d.Services, d.Status, d.Encryption)
}

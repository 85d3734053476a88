// Package network holds the simulated infrastructure inventory for one
// session: the monitored IP ranges and discovered devices of the selected
// deployment scale.
package network

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/sentinelx/internal/catalog"
	"github.com/kalambet/sentinelx/internal/session"
)

var (
	ErrNoScale       = errors.New("no deployment scale selected")
	ErrMissingField  = errors.New("name, range, location and organization are required")
	ErrInvalidCIDR   = errors.New("invalid CIDR notation (e.g., 192.168.1.0/24)")
	ErrRangeLimit    = errors.New("range limit reached for this scale")
	ErrUnknownRange  = errors.New("unknown range")
	ErrUnknownDevice = errors.New("unknown device")
)

// Rand is the random source used to fill in simulated range figures.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// NewRange is the user-supplied part of a range.
type NewRange struct {
	Name         string `json:"name"`
	CIDR         string `json:"cidr"`
	Location     string `json:"location"`
	Organization string `json:"organization"`
}

// Inventory is not safe for concurrent use; chat.Session guards it.
type Inventory struct {
	cat     *catalog.Catalog
	scale   session.Scale
	ranges  []catalog.IPRange
	devices []catalog.Device
}

// NewInventory returns an empty inventory with no scale selected.
func NewInventory(cat *catalog.Catalog) *Inventory {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Inventory{cat: cat}
}

// Configure loads the fixtures of scale s, replacing the current contents.
// ScaleNone empties the inventory.
func (inv *Inventory) Configure(s session.Scale) error {
	if s == session.ScaleNone {
		inv.scale = session.ScaleNone
		inv.ranges = nil
		inv.devices = nil
		return nil
	}
	cfg, ok := inv.cat.Scale(s)
	if !ok {
		return fmt.Errorf("configuring inventory: unknown scale %q", s)
	}
	inv.scale = s
	inv.ranges = append([]catalog.IPRange(nil), cfg.Ranges...)
	inv.devices = append([]catalog.Device(nil), cfg.Devices...)
	return nil
}

// Restore replaces the ranges with previously persisted ones, keeping the
// scale's device fixtures.
func (inv *Inventory) Restore(s session.Scale, ranges []catalog.IPRange) error {
	if err := inv.Configure(s); err != nil {
		return err
	}
	if s != session.ScaleNone && ranges != nil {
		inv.ranges = append([]catalog.IPRange(nil), ranges...)
	}
	return nil
}

// Scale returns the configured scale.
func (inv *Inventory) Scale() session.Scale { return inv.scale }

// Ranges returns a copy of the monitored ranges.
func (inv *Inventory) Ranges() []catalog.IPRange {
	return append([]catalog.IPRange(nil), inv.ranges...)
}

// Devices returns a copy of the discovered devices.
func (inv *Inventory) Devices() []catalog.Device {
	return append([]catalog.Device(nil), inv.devices...)
}

// Range looks up a range by id.
func (inv *Inventory) Range(id string) (catalog.IPRange, error) {
	for _, r := range inv.ranges {
		if r.ID == id {
			return r, nil
		}
	}
	return catalog.IPRange{}, fmt.Errorf("%w %q", ErrUnknownRange, id)
}

// Device looks up a device by id.
func (inv *Inventory) Device(id string) (catalog.Device, error) {
	for _, d := range inv.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return catalog.Device{}, fmt.Errorf("%w %q", ErrUnknownDevice, id)
}

// AddRange validates nr and appends a new range in the Scanning state with
// simulated device, service, vulnerability and bandwidth figures.
func (inv *Inventory) AddRange(nr NewRange, rnd Rand) (catalog.IPRange, error) {
	if inv.scale == session.ScaleNone {
		return catalog.IPRange{}, ErrNoScale
	}
	nr = NewRange{
		Name:         strings.TrimSpace(nr.Name),
		CIDR:         strings.TrimSpace(nr.CIDR),
		Location:     strings.TrimSpace(nr.Location),
		Organization: strings.TrimSpace(nr.Organization),
	}
	if nr.Name == "" || nr.CIDR == "" || nr.Location == "" || nr.Organization == "" {
		return catalog.IPRange{}, ErrMissingField
	}
	if !ValidCIDR(nr.CIDR) {
		return catalog.IPRange{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, nr.CIDR)
	}
	cfg, _ := inv.cat.Scale(inv.scale)
	if cfg.MaxRanges > 0 && len(inv.ranges) >= cfg.MaxRanges {
		return catalog.IPRange{}, fmt.Errorf("%w: maximum %d for %s, upgrade to enterprise for unlimited ranges",
			ErrRangeLimit, cfg.MaxRanges, inv.scale)
	}

	r := catalog.IPRange{
		ID:              "range-" + uuid.NewString(),
		Name:            nr.Name,
		CIDR:            nr.CIDR,
		Location:        nr.Location,
		Organization:    nr.Organization,
		Status:          "Scanning",
		Devices:         between(rnd, cfg.DeviceRange),
		Services:        between(rnd, cfg.ServiceRange),
		Vulnerabilities: rnd.IntN(2),
		Bandwidth:       bandwidth(inv.scale, rnd),
	}
	inv.ranges = append(inv.ranges, r)
	return r, nil
}

// CanAddRange reports whether another range fits under the scale limit.
func (inv *Inventory) CanAddRange() bool {
	cfg, ok := inv.cat.Scale(inv.scale)
	if !ok {
		return false
	}
	return cfg.MaxRanges == 0 || len(inv.ranges) < cfg.MaxRanges
}

// ValidCIDR reports whether s is an IPv4 prefix such as 192.168.1.0/24.
func ValidCIDR(s string) bool {
	p, err := netip.ParsePrefix(s)
	return err == nil && p.Addr().Is4()
}

// between draws from the half-open interval [r[0], r[1]).
func between(rnd Rand, r [2]int) int {
	return rnd.IntN(r[1]-r[0]) + r[0]
}

func bandwidth(s session.Scale, rnd Rand) string {
	switch s {
	case session.ScaleIndividual:
		return "100Mbps"
	case session.ScaleBusiness:
		return fmt.Sprintf("%.1fGbps", rnd.Float64()*2+0.5)
	default:
		return fmt.Sprintf("%.1fGB/s", rnd.Float64()*20+1)
	}
}

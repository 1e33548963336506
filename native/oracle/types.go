package oracle

import (
	"math/big"
	"strings"
	"time"
)

const (
	// DefaultSpotWindow bounds how long a spot observation stays usable
	// before reads fall back to the class floor.
	DefaultSpotWindow = time.Hour
	// DefaultMaxDeviationBps caps the relative move a spot update may make
	// against the price currently in effect (20%).
	DefaultMaxDeviationBps = 2_000
)

// PricePoint is one stored spot observation for an asset.
type PricePoint struct {
	Value     *big.Int
	UpdatedAt int64
}

// Clone returns a deep copy so callers never alias engine-held values.
func (p PricePoint) Clone() PricePoint {
	clone := PricePoint{UpdatedAt: p.UpdatedAt}
	if p.Value != nil {
		clone.Value = new(big.Int).Set(p.Value)
	}
	return clone
}

// SpotUpdate is one element of a batch price push.
type SpotUpdate struct {
	Class string
	ID    string
	Price *big.Int
}

// Config captures the tunables applied when constructing the engine.
type Config struct {
	// SpotWindow is the validity window for spot observations. Zero means
	// DefaultSpotWindow.
	SpotWindow time.Duration
	// MaxDeviationBps caps spot moves relative to the effective price.
	// Zero means DefaultMaxDeviationBps.
	MaxDeviationBps uint64
	// Classes seeds the supported asset classes.
	Classes []string
}

// Normalise fills in defaults and canonicalises class names.
func (c Config) Normalise() Config {
	out := c
	if out.SpotWindow <= 0 {
		out.SpotWindow = DefaultSpotWindow
	}
	if out.MaxDeviationBps == 0 {
		out.MaxDeviationBps = DefaultMaxDeviationBps
	}
	classes := make([]string, 0, len(out.Classes))
	seen := make(map[string]struct{}, len(out.Classes))
	for _, class := range out.Classes {
		normalized := NormaliseClass(class)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		classes = append(classes, normalized)
	}
	out.Classes = classes
	return out
}

// NormaliseClass canonicalises an asset class name.
func NormaliseClass(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}

// NormaliseAssetID canonicalises an asset identifier within a class.
func NormaliseAssetID(id string) string {
	return strings.TrimSpace(id)
}

package wqi

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hydroindex/internal/sample"
)

// Thresholds maps a parameter name to its permissible limit.
type Thresholds map[string]float64

// Lookup returns the limit for parameter. Both the parameter and the keys
// are matched by normalized name.
func (t Thresholds) Lookup(parameter string) (float64, bool) {
	if v, ok := t[parameter]; ok {
		return v, true
	}
	name := sample.NormalizeName(parameter)
	if v, ok := t[name]; ok {
		return v, true
	}
	for k, v := range t {
		if sample.NormalizeName(k) == name {
			return v, true
		}
	}
	return 0, false
}

// Canonical returns a copy of t keyed by normalized parameter names.
func (t Thresholds) Canonical() Thresholds {
	out := make(Thresholds, len(t))
	for k, v := range t {
		out[sample.NormalizeName(k)] = v
	}
	return out
}

// Names returns the parameter names in sorted order.
func (t Thresholds) Names() []string {
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DefaultThresholds returns the drinking-water permissible limits (mg/L, pH
// unitless) used when a caller supplies none.
func DefaultThresholds() Thresholds {
	return Thresholds{
		"ph":         8.5,
		"tds":        500,
		"hardness":   200,
		"calcium":    75,
		"magnesium":  30,
		"chloride":   250,
		"sulphate":   200,
		"nitrate":    45,
		"fluoride":   1.0,
		"iron":       0.3,
		"arsenic":    0.01,
		"alkalinity": 200,
		"sodium":     200,
		"potassium":  12,
	}
}

// Profile is a named threshold table with optional fixed weights.
type Profile struct {
	Name       string             `yaml:"name"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	Weights    map[string]float64 `yaml:"weights"`
}

// LoadProfile reads a YAML threshold profile. Profile thresholds are merged
// over DefaultThresholds.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "wqi: read profile %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "wqi: parse profile")
	}

	merged := DefaultThresholds()
	for name, v := range p.Thresholds {
		if !(v > 0) {
			return nil, eris.Errorf("wqi: threshold for %q must be positive, got %v", name, v)
		}
		merged[sample.NormalizeName(name)] = v
	}
	p.Thresholds = merged

	weights := make(map[string]float64, len(p.Weights))
	for name, w := range p.Weights {
		if w < 0 {
			return nil, eris.Errorf("wqi: weight for %q must not be negative, got %v", name, w)
		}
		weights[sample.NormalizeName(name)] = w
	}
	p.Weights = weights

	return &p, nil
}

// Class buckets a normalized composite score.
type Class string

const (
	ClassExcellent Class = "excellent"
	ClassGood      Class = "good"
	ClassModerate  Class = "moderate"
	ClassPoor      Class = "poor"
	ClassVeryPoor  Class = "very poor"
)

// Classify maps a normalized score in [0,1] to a quality class. Higher scores
// are better water.
func Classify(score float64) Class {
	switch {
	case score >= 0.8:
		return ClassExcellent
	case score >= 0.6:
		return ClassGood
	case score >= 0.4:
		return ClassModerate
	case score >= 0.2:
		return ClassPoor
	default:
		return ClassVeryPoor
	}
}

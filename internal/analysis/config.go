// Package analysis validates run settings and drives one end-to-end run:
// grid, interpolation, composite index, zonal statistics and report export
// inside a session workspace.
package analysis

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hydroindex/internal/interpolate"
	"github.com/sells-group/hydroindex/internal/sample"
	"github.com/sells-group/hydroindex/internal/wqi"
	"github.com/sells-group/hydroindex/internal/zonal"
)

// ErrInvalidConfig is matched by every Config validation failure.
var ErrInvalidConfig = eris.New("analysis: invalid config")

// ConfigError reports the first field that failed validation.
type ConfigError struct {
	Field string
	Tag   string
	Param string
}

func (e *ConfigError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("analysis: invalid config: %s fails %s=%s", e.Field, e.Tag, e.Param)
	}
	return fmt.Sprintf("analysis: invalid config: %s fails %s", e.Field, e.Tag)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Config is the settings of one run.
type Config struct {
	User       string `validate:"max=128"`
	ContextKey string `validate:"omitempty,max=64,excludesall=/\\"`

	CellSize float64 `validate:"gt=0"`
	CRS      string

	Power     float64 `validate:"gt=0"`
	Mode      string  `validate:"oneof=variable fixed global"`
	Neighbors int     `validate:"gte=1"`
	Radius    float64 `validate:"required_if=Mode fixed,gte=0"`
	ChunkRows int     `validate:"gte=0"`

	// Parameters restricts the run to these layers. Empty uses every
	// parameter found in the samples.
	Parameters []string `validate:"dive,required"`
	// ZoneIDs selects zones from the resolver. Empty uses every zone.
	ZoneIDs []string `validate:"dive,required"`

	Thresholds map[string]float64 `validate:"dive,keys,required,endkeys,gt=0"`
	Weights    map[string]float64 `validate:"dive,keys,required,endkeys,gte=0"`

	AllTouched   bool
	ZonalWorkers int `validate:"gte=0,lte=64"`

	// TTL is the session lifetime. Zero uses the registry default.
	TTL time.Duration `validate:"gte=0"`
}

// DefaultConfig returns a Config with the interpolation defaults and the
// given cell size.
func DefaultConfig(cellSize float64) Config {
	return Config{
		CellSize:  cellSize,
		Power:     interpolate.DefaultPower,
		Mode:      string(interpolate.ModeVariable),
		Neighbors: interpolate.DefaultNeighbors,
		ChunkRows: interpolate.DefaultChunkRows,
	}
}

// withDefaults fills zero-valued interpolation settings and normalizes
// parameter names in every list and map. The caller's slices and maps are
// left untouched.
func (c Config) withDefaults() Config {
	if c.Power == 0 {
		c.Power = interpolate.DefaultPower
	}
	if c.Mode == "" {
		c.Mode = string(interpolate.ModeVariable)
	}
	if c.Neighbors == 0 {
		c.Neighbors = interpolate.DefaultNeighbors
	}
	if len(c.Parameters) > 0 {
		params := make([]string, len(c.Parameters))
		for i, p := range c.Parameters {
			params[i] = sample.NormalizeName(p)
		}
		c.Parameters = params
	}
	if c.Thresholds != nil {
		c.Thresholds = wqi.Thresholds(c.Thresholds).Canonical()
	}
	if c.Weights != nil {
		c.Weights = wqi.Thresholds(c.Weights).Canonical()
	}
	return c
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate applies defaults and checks c. It fails on the first invalid
// field with a *ConfigError.
func (c Config) Validate() (Config, error) {
	c = c.withDefaults()
	err := getValidator().Struct(c)
	if err == nil {
		return c, nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return c, &ConfigError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return c, eris.Wrap(err, "analysis: validate config")
}

func (c Config) interpolation() interpolate.Options {
	return interpolate.Options{
		Power:     c.Power,
		Mode:      interpolate.Mode(c.Mode),
		Neighbors: c.Neighbors,
		Radius:    c.Radius,
		ChunkRows: c.ChunkRows,
	}
}

func (c Config) zonal() zonal.Options {
	return zonal.Options{AllTouched: c.AllTouched, Workers: c.ZonalWorkers}
}

// thresholds merges caller thresholds over the default table.
func (c Config) thresholds() wqi.Thresholds {
	t := wqi.DefaultThresholds()
	for name, v := range c.Thresholds {
		t[sample.NormalizeName(name)] = v
	}
	return t
}

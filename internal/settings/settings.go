// Package settings loads production rates from a YAML file.
package settings

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/state"
)

// ErrInvalidRates is returned when a rates file holds a negative rate or an
// unknown faction.
var ErrInvalidRates = accrual.ErrInvalidRates

// Parse decodes YAML rates. Keys absent from data keep their stock values.
//
// Postcondition: Returns rates covering every faction, or an error wrapping ErrInvalidRates.
func Parse(data []byte) (accrual.Rates, error) {
	rates := accrual.DefaultRates()
	var raw struct {
		MiningRate     *float64           `yaml:"mining_rate"`
		ResearchRate   *float64           `yaml:"research_rate"`
		PopulationRate *float64           `yaml:"population_rate"`
		MaterialRates  map[string]float64 `yaml:"material_rates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return accrual.Rates{}, fmt.Errorf("parsing rates: %w", err)
	}

	for _, f := range []struct {
		src *float64
		dst *float64
	}{
		{raw.MiningRate, &rates.MiningRate},
		{raw.ResearchRate, &rates.ResearchRate},
		{raw.PopulationRate, &rates.PopulationRate},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}

	for name, v := range raw.MaterialRates {
		faction, err := state.ParseFaction(name)
		if err != nil {
			return accrual.Rates{}, fmt.Errorf("%w: material_rates: %v", ErrInvalidRates, err)
		}
		rates.MaterialRates[faction] = v
	}
	if err := rates.Validate(); err != nil {
		return accrual.Rates{}, err
	}
	return rates, nil
}

// LoadFile reads and parses the rates file at path.
func LoadFile(path string) (accrual.Rates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return accrual.Rates{}, fmt.Errorf("reading rates file: %w", err)
	}
	return Parse(data)
}

// FileProvider serves rates from a YAML file, re-reading it when its
// modification time changes. A broken edit keeps the last good rates.
type FileProvider struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	modTime time.Time
	rates   accrual.Rates
	loaded  bool
}

// NewFileProvider creates a provider for path and performs the initial load.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a provider holding valid rates, or a non-nil error.
func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	p := &FileProvider{path: path, logger: logger}
	if _, err := p.Rates(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Rates returns the current rates, reloading the file if it changed.
//
// Postcondition: Once loaded, never returns an error; reload failures are
// logged and the previous rates are served.
func (p *FileProvider) Rates(ctx context.Context) (accrual.Rates, error) {
	if err := ctx.Err(); err != nil {
		return accrual.Rates{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return p.fallback(fmt.Errorf("stat rates file: %w", err))
	}
	if p.loaded && info.ModTime().Equal(p.modTime) {
		return cloneRates(p.rates), nil
	}
	rates, err := LoadFile(p.path)
	if err != nil {
		return p.fallback(err)
	}
	if p.loaded {
		p.logger.Info("rates reloaded",
			zap.String("path", p.path),
			zap.Float64("mining_rate", rates.MiningRate),
		)
	}
	p.rates, p.modTime, p.loaded = rates, info.ModTime(), true
	return cloneRates(rates), nil
}

func (p *FileProvider) fallback(err error) (accrual.Rates, error) {
	if !p.loaded {
		return accrual.Rates{}, err
	}
	p.logger.Warn("keeping previous rates", zap.String("path", p.path), zap.Error(err))
	return cloneRates(p.rates), nil
}

func cloneRates(r accrual.Rates) accrual.Rates {
	out := r
	out.MaterialRates = make(map[state.Faction]float64, len(r.MaterialRates))
	for k, v := range r.MaterialRates {
		out.MaterialRates[k] = v
	}
	return out
}

package venue

import (
	"encoding/json"
	"sync"
	"time"

	"tradeflow/config"
)

// Category classifies a venue by the kind of market it exposes.
type Category string

const (
	CategoryCEX        Category = "cex"
	CategoryDEX        Category = "dex"
	CategoryPrediction Category = "prediction"
)

// Settings carries the feed configuration for one venue. Refreshed at
// pipeline (re)start, read-only afterwards.
type Settings struct {
	WhaleThreshold float64
	Symbols        []string
	CandleInterval time.Duration
	URLs           []string
}

// Venue is one external source of market data.
type Venue struct {
	Name     string
	Category Category
	Settings Settings
}

// NewVenue builds a Venue from validated configuration. The symbols field is
// a JSON array string; when it does not parse, the adapter's default list is
// used instead.
func NewVenue(vc config.VenueConfig, defaultSymbols []string) *Venue {
	symbols := defaultSymbols
	if vc.Symbols != "" {
		var parsed []string
		if err := json.Unmarshal([]byte(vc.Symbols), &parsed); err == nil && len(parsed) > 0 {
			symbols = parsed
		}
	}
	return &Venue{
		Name:     vc.Name,
		Category: Category(vc.Category),
		Settings: Settings{
			WhaleThreshold: vc.WhaleThreshold,
			Symbols:        symbols,
			CandleInterval: time.Duration(vc.CandleIntervalSeconds) * time.Second,
			URLs:           vc.URLs,
		},
	}
}

// Registry tracks every configured venue and the administratively disabled
// set. Venues are created at startup and never destroyed; only the enabled
// flag is mutated by operator action. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	venues   map[string]*Venue
	order    []string
	disabled map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		venues:   make(map[string]*Venue),
		disabled: make(map[string]bool),
	}
}

// Add registers a venue. Disabled-at-startup venues go straight to the
// disabled set.
func (r *Registry) Add(v *Venue, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[v.Name]; !ok {
		r.order = append(r.order, v.Name)
	}
	r.venues[v.Name] = v
	if !enabled {
		r.disabled[v.Name] = true
	}
}

func (r *Registry) Get(name string) (*Venue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[name]
	return v, ok
}

// Names returns venue names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[name]; ok {
		r.disabled[name] = true
	}
}

func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, name)
}

func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

// Disabled returns the names of all administratively disabled venues.
func (r *Registry) Disabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.disabled))
	for _, name := range r.order {
		if r.disabled[name] {
			out = append(out, name)
		}
	}
	return out
}

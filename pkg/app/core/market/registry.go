package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// Registry manages the known instruments in a thread-safe manner
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // symbol -> instrument
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds an instrument
// Returns error if the symbol is already registered
func (r *Registry) Register(in *Instrument) error {
	if in == nil {
		return fmt.Errorf("cannot register nil instrument")
	}
	if err := in.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[in.Symbol]; exists {
		return fmt.Errorf("instrument %s already registered", in.Symbol)
	}

	cp := *in
	r.instruments[in.Symbol] = &cp
	return nil
}

// Get returns a copy of the instrument
func (r *Registry) Get(symbol string) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, exists := r.instruments[symbol]
	if !exists {
		return Instrument{}, fmt.Errorf("%w: %s", types.ErrUnknownAsset, symbol)
	}
	return *in, nil
}

// List returns all instruments sorted by symbol
func (r *Registry) List() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instrument, 0, len(r.instruments))
	for _, in := range r.instruments {
		out = append(out, *in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UpdateStatus changes the trading status of an instrument
// Used for halting and resuming trading
func (r *Registry) UpdateStatus(symbol string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, exists := r.instruments[symbol]
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrUnknownAsset, symbol)
	}

	// Delisted is terminal
	if in.Status == Delisted {
		return fmt.Errorf("cannot change status of delisted instrument %s", symbol)
	}

	in.Status = status
	return nil
}

// ValidateOrder resolves the order's asset and checks it against the
// instrument's rules. The returned asset is the registered one, so callers
// can replace whatever the client sent.
func (r *Registry) ValidateOrder(o *types.Order) (types.Asset, error) {
	in, err := r.Get(o.Asset.Symbol)
	if err != nil {
		return types.Asset{}, err
	}
	if err := in.ValidateOrder(o); err != nil {
		return types.Asset{}, err
	}
	return in.Asset, nil
}

// Count returns the total number of registered instruments
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

// Exists checks if a symbol is registered
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.instruments[symbol]
	return exists
}

package feed

import (
	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/config"
)

// Registry maps feed names to their implementations.
type Registry struct {
	feeds map[string]Feed
	order []string // insertion order for deterministic iteration
}

// NewRegistry registers every feed the configuration can serve. Feeds that
// need an API key are left out when the key is empty.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{feeds: make(map[string]Feed)}

	r.Register(NewAMFI(cfg.Feeds.AMFIURL))
	r.Register(&MFAPI{BaseURL: cfg.Feeds.MFAPIBaseURL, MaxSchemes: cfg.Feeds.MFAPIBackfillMax})
	if cfg.Feeds.FREDKey != "" {
		r.Register(&FRED{BaseURL: cfg.Feeds.FREDBaseURL, APIKey: cfg.Feeds.FREDKey, SeriesID: cfg.Feeds.FREDSeries})
	}
	if cfg.Feeds.AlphaVantageKey != "" {
		r.Register(&AlphaVantage{
			BaseURL: cfg.Feeds.AlphaVantageURL,
			APIKey:  cfg.Feeds.AlphaVantageKey,
			Symbols: ParseIndexSymbols(cfg.Feeds.IndexSymbols),
		})
	}
	return r
}

// Register adds a feed, replacing any feed with the same name.
func (r *Registry) Register(f Feed) {
	name := f.Name()
	if _, ok := r.feeds[name]; !ok {
		r.order = append(r.order, name)
	}
	r.feeds[name] = f
}

// Get returns a feed by name.
func (r *Registry) Get(name string) (Feed, error) {
	f, ok := r.feeds[name]
	if !ok {
		return nil, eris.Errorf("feed: unknown feed %q", name)
	}
	return f, nil
}

// Select returns the named feeds, or every feed when names is empty.
func (r *Registry) Select(names []string) ([]Feed, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Feed, 0, len(names))
	for _, name := range names {
		f, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// All returns all feeds in registration order.
func (r *Registry) All() []Feed {
	out := make([]Feed, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.feeds[name])
	}
	return out
}

// Names returns the registered feed names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

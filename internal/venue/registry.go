package venue

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Registry is the closed set of venue clients known to the process. Lookups
// are case-insensitive; an unknown name is a configuration error.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from already constructed clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[strings.ToLower(c.Name())] = c
	}
	return r
}

// Deps are the shared collaborators handed to every venue client.
type Deps struct {
	Limiter  domain.RateLimiter
	Decimals Decimals
}

// Build constructs a client for every enabled venue in cfgs.
func Build(cfgs []config.VenueConfig, deps Deps) (*Registry, error) {
	clients := make([]Client, 0, len(cfgs))
	for _, vc := range cfgs {
		if !vc.Enabled {
			continue
		}
		opts := Options{
			BaseURL:    vc.BaseURL,
			Timeout:    vc.Timeout.Duration,
			Limiter:    deps.Limiter,
			RateLimit:  vc.RateLimit,
			RateWindow: vc.RateWindow.Duration,
			Decimals:   deps.Decimals,
		}
		switch strings.ToLower(vc.Name) {
		case "jupiter":
			clients = append(clients, NewJupiter(opts))
		case "raydium":
			clients = append(clients, NewRaydium(opts))
		case "meteora":
			clients = append(clients, NewMeteora(opts))
		case "orca":
			clients = append(clients, NewOrca())
		default:
			return nil, fmt.Errorf("venue: no client for %q: %w", vc.Name, domain.ErrConfiguration)
		}
	}
	return NewRegistry(clients...), nil
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.clients[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("venue: %q is not registered: %w", name, domain.ErrConfiguration)
	}
	return c, nil
}

// SwapBuilder returns the named venue's swap capability.
func (r *Registry) SwapBuilder(name string) (SwapBuilder, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	sb, ok := c.(SwapBuilder)
	if !ok {
		return nil, fmt.Errorf("venue: %q cannot build swaps: %w", name, domain.ErrConfiguration)
	}
	return sb, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.clients[strings.ToLower(name)]
	return ok
}

// Names returns the registered venue names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.clients))
	for n := range r.clients {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

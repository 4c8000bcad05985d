// Package provider holds per-provider normalization and pre-filter
// capabilities. The cycle pipeline looks a capability up by provider name
// instead of branching on it.
package provider

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/listing-scanner/internal/models"
)

// ErrIncomplete is returned for listings that lack identity fields
var ErrIncomplete = errors.New("listing lacks title or url")

// ErrPriceOutOfRange is returned for prices the store cannot hold
var ErrPriceOutOfRange = errors.New("listing price out of range")

// Capability normalizes and pre-filters the listings of one provider
type Capability interface {
	Name() string
	// Normalize cleans a listing; an error drops it from the batch
	Normalize(l models.NormalizedListing) (models.NormalizedListing, error)
	// Filter drops listings the provider knows to be noise (ads, placeholders)
	Filter(l models.NormalizedListing) bool
}

// Basic is the capability used for providers without special needs
type Basic struct {
	ProviderName    string
	BaseURL         string   // resolves relative listing URLs
	DefaultCurrency string   // applied when a priced listing has no currency
	IgnoreTitles    []string // case-insensitive substrings marking noise listings
}

// Name implements Capability
func (b *Basic) Name() string {
	return b.ProviderName
}

// Normalize implements Capability
func (b *Basic) Normalize(l models.NormalizedListing) (models.NormalizedListing, error) {
	l.Provider = b.ProviderName
	l.Title = strings.Join(strings.Fields(l.Title), " ")
	l.Description = strings.TrimSpace(l.Description)
	l.LocationHint = strings.Join(strings.Fields(l.LocationHint), " ")
	l.Currency = strings.ToUpper(strings.TrimSpace(l.Currency))
	if l.Price != nil && l.Currency == "" {
		l.Currency = b.DefaultCurrency
	}

	raw := strings.TrimSpace(l.URL)
	if l.Title == "" || raw == "" {
		return l, ErrIncomplete
	}

	resolved, err := b.resolveURL(raw)
	if err != nil {
		return l, fmt.Errorf("invalid listing url %q: %w", raw, err)
	}
	l.URL = resolved

	if l.Price != nil {
		switch p := l.Price.Round(models.PriceScale); {
		case p.IsNegative():
			l.Price = nil
		case p.GreaterThanOrEqual(models.MaxPrice):
			return l, fmt.Errorf("%w: %s", ErrPriceOutOfRange, l.Price.String())
		default:
			l.Price = &p
		}
	}
	return l, nil
}

func (b *Basic) resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		if b.BaseURL == "" {
			return "", errors.New("relative url without base")
		}
		base, err := url.Parse(b.BaseURL)
		if err != nil {
			return "", err
		}
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	return u.String(), nil
}

// Filter implements Capability
func (b *Basic) Filter(l models.NormalizedListing) bool {
	title := strings.ToLower(l.Title)
	for _, t := range b.IgnoreTitles {
		if t != "" && strings.Contains(title, strings.ToLower(t)) {
			return false
		}
	}
	return true
}

// Registry maps provider names to capabilities
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewRegistry creates a registry holding the given capabilities
func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{capabilities: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a capability
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[strings.ToLower(c.Name())] = c
}

// Get returns the capability for name, or a Basic one for unknown providers
func (r *Registry) Get(name string) Capability {
	r.mu.RLock()
	c, ok := r.capabilities[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return c
	}
	return &Basic{ProviderName: name}
}

// Defaults returns the registry of known Swiss classifieds providers
func Defaults() *Registry {
	return NewRegistry(
		&Basic{ProviderName: "tutti", BaseURL: "https://www.tutti.ch", DefaultCurrency: "CHF",
			IgnoreTitles: []string{"gesucht", "suche"}},
		&Basic{ProviderName: "anibis", BaseURL: "https://www.anibis.ch", DefaultCurrency: "CHF"},
		&Basic{ProviderName: "homegate", BaseURL: "https://www.homegate.ch", DefaultCurrency: "CHF"},
		&Basic{ProviderName: "ricardo", BaseURL: "https://www.ricardo.ch", DefaultCurrency: "CHF"},
	)
}

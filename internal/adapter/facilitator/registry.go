package facilitator

import (
	"sort"
	"strings"
	"time"
)

// Provider selects how requests to a facilitator are authenticated.
type Provider string

const (
	// ProviderGeneric sends plain JSON, with an optional static bearer key.
	ProviderGeneric Provider = "generic"
	// ProviderCDP mints a short-lived signed JWT per request.
	ProviderCDP Provider = "cdp"
)

// DefaultNetwork is the registry key used for unknown networks.
const DefaultNetwork = "default"

const (
	DefaultVerifyTimeout = 30 * time.Second
	DefaultSettleTimeout = 20 * time.Second
)

// Paths are the endpoint paths relative to the base URL.
type Paths struct {
	Verify    string
	Settle    string
	Supported string
}

// DefaultPaths are the x402 facilitator endpoints.
var DefaultPaths = Paths{
	Verify:    "/verify",
	Settle:    "/settle",
	Supported: "/supported",
}

// Entry is one static registry row.
type Entry struct {
	BaseURL  string
	Provider Provider
	Paths    Paths
}

// Config is the resolved per-network facilitator configuration.
type Config struct {
	Network       string
	BaseURL       string
	Provider      Provider
	Paths         Paths
	VerifyTimeout time.Duration
	SettleTimeout time.Duration
}

const (
	publicFacilitatorURL = "https://x402.org/facilitator"
	cdpFacilitatorURL    = "https://api.cdp.coinbase.com/platform/v2/x402"
)

// DefaultEntries maps network names to facilitators. Test networks use the
// public facilitator; mainnets go through CDP.
func DefaultEntries() map[string]Entry {
	public := Entry{BaseURL: publicFacilitatorURL, Provider: ProviderGeneric, Paths: DefaultPaths}
	cdp := Entry{BaseURL: cdpFacilitatorURL, Provider: ProviderCDP, Paths: DefaultPaths}

	return map[string]Entry{
		DefaultNetwork:  public,
		"base-sepolia":  public,
		"eip155:84532":  public,
		"solana-devnet": public,
		"base":          cdp,
		"eip155:8453":   cdp,
		"solana":        cdp,
	}
}

// Registry resolves a network to its facilitator configuration.
type Registry struct {
	entries        map[string]Entry
	overrideURL    string
	defaultNetwork string
	verifyTimeout  time.Duration
	settleTimeout  time.Duration
}

// RegistryOptions tune a Registry. Zero values fall back to defaults.
type RegistryOptions struct {
	Entries        map[string]Entry
	OverrideURL    string
	DefaultNetwork string
	VerifyTimeout  time.Duration
	SettleTimeout  time.Duration
}

// NewRegistry builds a registry. An entry keyed DefaultNetwork is always
// present so resolution never fails.
func NewRegistry(opts RegistryOptions) *Registry {
	src := opts.Entries
	if src == nil {
		src = DefaultEntries()
	}
	entries := make(map[string]Entry, len(src)+1)
	for k, v := range src {
		entries[k] = v
	}
	if _, ok := entries[DefaultNetwork]; !ok {
		entries[DefaultNetwork] = Entry{BaseURL: publicFacilitatorURL, Provider: ProviderGeneric, Paths: DefaultPaths}
	}
	r := &Registry{
		entries:        entries,
		overrideURL:    strings.TrimRight(opts.OverrideURL, "/"),
		defaultNetwork: opts.DefaultNetwork,
		verifyTimeout:  opts.VerifyTimeout,
		settleTimeout:  opts.SettleTimeout,
	}
	if r.defaultNetwork == "" {
		r.defaultNetwork = DefaultNetwork
	}
	if r.verifyTimeout <= 0 {
		r.verifyTimeout = DefaultVerifyTimeout
	}
	if r.settleTimeout <= 0 {
		r.settleTimeout = DefaultSettleTimeout
	}
	return r
}

// Networks lists the registered network names in sorted order.
func (r *Registry) Networks() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveConfig returns the configuration for network. An empty network
// means the configured default; an unknown one falls back to the default
// entry. A process-wide override URL replaces every base URL and is
// treated as a self-hosted generic facilitator.
func (r *Registry) ResolveConfig(network string) Config {
	if network == "" {
		network = r.defaultNetwork
	}
	entry, ok := r.entries[network]
	if !ok {
		entry = r.entries[DefaultNetwork]
	}
	if r.overrideURL != "" {
		entry = Entry{BaseURL: r.overrideURL, Provider: ProviderGeneric, Paths: entry.Paths}
	}
	if entry.Paths == (Paths{}) {
		entry.Paths = DefaultPaths
	}
	if entry.Provider == "" {
		entry.Provider = ProviderGeneric
	}

	return Config{
		Network:       network,
		BaseURL:       strings.TrimRight(entry.BaseURL, "/"),
		Provider:      entry.Provider,
		Paths:         entry.Paths,
		VerifyTimeout: r.verifyTimeout,
		SettleTimeout: r.settleTimeout,
	}
}

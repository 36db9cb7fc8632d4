package trust

import (
	"context"
	"sort"
	"sync"
)

// Registry owns the whitelist, the blacklist and per-source profiles. Each
// write is atomic on its own; there are no compound transactions across them.
type Registry interface {
	IsWhitelisted(ctx context.Context, sourceSystem string) (bool, error)
	IsBlacklisted(ctx context.Context, sourceSystem string) (bool, error)
	AddToWhitelist(ctx context.Context, sourceSystem string) error
	RemoveFromWhitelist(ctx context.Context, sourceSystem string) error
	AddToBlacklist(ctx context.Context, sourceSystem string) error
	RemoveFromBlacklist(ctx context.Context, sourceSystem string) error
	Lists(ctx context.Context) (Lists, error)

	// SetProfile stores the descriptive fields of cfg. List membership is
	// not changed.
	SetProfile(ctx context.Context, cfg SourceConfig) error
	// Profile returns nil when no profile was stored for sourceSystem.
	Profile(ctx context.Context, sourceSystem string) (*SourceConfig, error)
}

// Lists is a sorted snapshot of both sets.
type Lists struct {
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

// MemoryRegistry keeps both sets in process memory. Contents are lost on restart.
type MemoryRegistry struct {
	mu        sync.RWMutex
	whitelist map[string]struct{}
	blacklist map[string]struct{}
	profiles  map[string]SourceConfig
}

// NewMemoryRegistry creates a registry pre-populated with the given sources.
func NewMemoryRegistry(whitelist, blacklist []string) *MemoryRegistry {
	r := &MemoryRegistry{
		whitelist: make(map[string]struct{}, len(whitelist)),
		blacklist: make(map[string]struct{}, len(blacklist)),
		profiles:  make(map[string]SourceConfig),
	}
	for _, s := range whitelist {
		r.whitelist[s] = struct{}{}
	}
	for _, s := range blacklist {
		r.blacklist[s] = struct{}{}
	}
	return r
}

func (r *MemoryRegistry) IsWhitelisted(ctx context.Context, sourceSystem string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.whitelist[sourceSystem]
	return ok, nil
}

func (r *MemoryRegistry) IsBlacklisted(ctx context.Context, sourceSystem string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklist[sourceSystem]
	return ok, nil
}

func (r *MemoryRegistry) AddToWhitelist(ctx context.Context, sourceSystem string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitelist[sourceSystem] = struct{}{}
	return nil
}

func (r *MemoryRegistry) RemoveFromWhitelist(ctx context.Context, sourceSystem string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.whitelist, sourceSystem)
	return nil
}

func (r *MemoryRegistry) AddToBlacklist(ctx context.Context, sourceSystem string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[sourceSystem] = struct{}{}
	return nil
}

func (r *MemoryRegistry) RemoveFromBlacklist(ctx context.Context, sourceSystem string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blacklist, sourceSystem)
	return nil
}

func (r *MemoryRegistry) Lists(ctx context.Context) (Lists, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Lists{
		Whitelist: sortedKeys(r.whitelist),
		Blacklist: sortedKeys(r.blacklist),
	}, nil
}

func (r *MemoryRegistry) SetProfile(ctx context.Context, cfg SourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[cfg.SourceSystem] = cfg.profile()
	return nil
}

func (r *MemoryRegistry) Profile(ctx context.Context, sourceSystem string) (*SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[sourceSystem]
	if !ok {
		return nil, nil
	}
	p.AllowedProtocols = append([]string(nil), p.AllowedProtocols...)
	if p.Metadata != nil {
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return &p, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

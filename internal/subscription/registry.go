package subscription

import (
	"sort"
	"strings"
	"sync"
)

// Registry is an in-memory protocol <-> address relation. Both sides are
// lowercased; a pair is stored at most once.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{protocols: map[string]map[string]struct{}{}}
}

// Subscribe adds (address, protocol). Empty protocols are ignored.
func (r *Registry) Subscribe(address, protocol string) {
	protocol = normalize(protocol)
	if protocol == "" {
		return
	}
	address = normalize(address)

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.protocols[protocol]
	if !ok {
		set = map[string]struct{}{}
		r.protocols[protocol] = set
	}
	set[address] = struct{}{}
}

// Unsubscribe removes (address, protocol) if present.
func (r *Registry) Unsubscribe(address, protocol string) {
	protocol = normalize(protocol)
	address = normalize(address)

	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.protocols[protocol]; ok {
		delete(set, address)
	}
}

// AddressesFor returns the addresses subscribed to protocol, sorted. Unknown
// protocols yield an empty slice.
func (r *Registry) AddressesFor(protocol string) []string {
	protocol = normalize(protocol)

	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.protocols[protocol]
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// ProtocolsFor returns every protocol whose set contains address.
func (r *Registry) ProtocolsFor(address string) []string {
	address = normalize(address)

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for protocol, set := range r.protocols {
		if _, ok := set[address]; ok {
			out = append(out, protocol)
		}
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// authz/engine/type_registry.go
package engine

import "sync"

// MapTypeRegistry is a TypeRegistry backed by a direct-supertype map. The
// closure is computed on first lookup and memoized; type definitions change
// rarely and registries are replaced wholesale when they do.
type MapTypeRegistry struct {
	mu       sync.RWMutex
	direct   map[string][]string
	closures map[string][]string
}

func NewMapTypeRegistry(directSupertypes map[string][]string) *MapTypeRegistry {
	direct := make(map[string][]string, len(directSupertypes))
	for name, supers := range directSupertypes {
		direct[name] = append([]string(nil), supers...)
	}
	return &MapTypeRegistry{
		direct:   direct,
		closures: make(map[string][]string),
	}
}

// SupertypesOf returns the transitive supertype closure of typeName, not
// including typeName itself. Cycles in the definitions are tolerated.
func (r *MapTypeRegistry) SupertypesOf(typeName string) []string {
	r.mu.RLock()
	closure, ok := r.closures[typeName]
	r.mu.RUnlock()
	if ok {
		return closure
	}

	seen := map[string]bool{typeName: true}
	var out []string
	frontier := append([]string(nil), r.direct[typeName]...)
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		frontier = append(frontier, r.direct[next]...)
	}

	r.mu.Lock()
	r.closures[typeName] = out
	r.mu.Unlock()
	return out
}

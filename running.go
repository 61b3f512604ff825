package rxfer

import (
	"sync"

	"github.com/derektruong/rxfer/state"
)

// runningTransfers tracks the transfers running in the process. Keys are
// scoped to the store holding their state, so every Client sharing a store
// sees the transfers started by the others. Stores are compared by
// identity, they must be pointer types.
var runningTransfers = &registry{stores: make(map[state.Store]map[state.Key]struct{})}

type registry struct {
	mu     sync.Mutex
	stores map[state.Store]map[state.Key]struct{}
}

// acquire marks key of store as running, it returns false if it already is.
func (r *registry) acquire(store state.Store, key state.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys, ok := r.stores[store]
	if !ok {
		keys = make(map[state.Key]struct{})
		r.stores[store] = keys
	}
	if _, ok = keys[key]; ok {
		return false
	}
	keys[key] = struct{}{}
	return true
}

func (r *registry) release(store state.Store, key state.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.stores[store]
	delete(keys, key)
	if len(keys) == 0 {
		delete(r.stores, store)
	}
}

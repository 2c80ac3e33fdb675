package gps

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/markus-lassfolk/locnotifier/pkg"
)

// ErrUnknownSubscription is returned when unsubscribing a handle the source does not own
var ErrUnknownSubscription = errors.New("unknown subscription")

// FixHandler receives fixes pushed by a location source
type FixHandler func(fix pkg.LocationFix)

// Subscription is the handle returned by Subscribe
type Subscription struct {
	ID   uint64
	Kind pkg.ProviderKind
}

// LocationSource pushes fixes for a provider kind to subscribers. A source may
// silently stop delivering when its provider goes away.
type LocationSource interface {
	Subscribe(kind pkg.ProviderKind, handler FixHandler) (Subscription, error)
	Unsubscribe(sub Subscription) error
}

var subscriptionIDs atomic.Uint64

func nextSubscription(kind pkg.ProviderKind) Subscription {
	return Subscription{ID: subscriptionIDs.Add(1), Kind: kind}
}

// handlerSet is the subscriber bookkeeping shared by the concrete sources
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[uint64]FixHandler
	kinds    map[uint64]pkg.ProviderKind
}

func newHandlerSet() *handlerSet {
	return &handlerSet{
		handlers: make(map[uint64]FixHandler),
		kinds:    make(map[uint64]pkg.ProviderKind),
	}
}

func (h *handlerSet) add(kind pkg.ProviderKind, handler FixHandler) Subscription {
	sub := nextSubscription(kind)
	h.mu.Lock()
	h.handlers[sub.ID] = handler
	h.kinds[sub.ID] = kind
	h.mu.Unlock()
	return sub
}

// remove returns how many subscribers of the same kind are left
func (h *handlerSet) remove(sub Subscription) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.handlers[sub.ID]; !ok {
		return 0, ErrUnknownSubscription
	}
	delete(h.handlers, sub.ID)
	delete(h.kinds, sub.ID)
	return h.countLocked(sub.Kind), nil
}

func (h *handlerSet) count(kind pkg.ProviderKind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked(kind)
}

func (h *handlerSet) total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// kindsInUse lists the provider kinds with at least one subscriber
func (h *handlerSet) kindsInUse() []pkg.ProviderKind {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[pkg.ProviderKind]bool)
	var kinds []pkg.ProviderKind
	for _, k := range h.kinds {
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (h *handlerSet) countLocked(kind pkg.ProviderKind) int {
	n := 0
	for _, k := range h.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func (h *handlerSet) dispatch(kind pkg.ProviderKind, fix pkg.LocationFix) int {
	h.mu.RLock()
	targets := make([]FixHandler, 0, len(h.handlers))
	for id, handler := range h.handlers {
		if h.kinds[id] == kind {
			targets = append(targets, handler)
		}
	}
	h.mu.RUnlock()

	// handlers run outside the lock so they may unsubscribe themselves
	for _, handler := range targets {
		handler(fix)
	}
	return len(targets)
}

// Router sends each provider kind to the source configured for it
type Router struct {
	mu     sync.RWMutex
	routes map[pkg.ProviderKind]LocationSource
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{routes: make(map[pkg.ProviderKind]LocationSource)}
}

// Route assigns a source to a provider kind
func (r *Router) Route(kind pkg.ProviderKind, source LocationSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[kind] = source
}

// Has reports whether a provider kind has a source
func (r *Router) Has(kind pkg.ProviderKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[kind]
	return ok
}

func (r *Router) Subscribe(kind pkg.ProviderKind, handler FixHandler) (Subscription, error) {
	r.mu.RLock()
	source, ok := r.routes[kind]
	r.mu.RUnlock()
	if !ok {
		return Subscription{}, fmt.Errorf("no location source for provider %q", kind)
	}
	return source.Subscribe(kind, handler)
}

func (r *Router) Unsubscribe(sub Subscription) error {
	r.mu.RLock()
	source, ok := r.routes[sub.Kind]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownSubscription
	}
	return source.Unsubscribe(sub)
}

// ValidateFix rejects fixes that cannot describe a real position
func ValidateFix(fix pkg.LocationFix) error {
	if fix.Latitude < -90 || fix.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if fix.Longitude < -180 || fix.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	if fix.Accuracy < 0 {
		return fmt.Errorf("accuracy: must not be negative")
	}
	if fix.Timestamp <= 0 {
		return fmt.Errorf("timestamp: must be positive")
	}
	return nil
}

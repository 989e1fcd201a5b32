// Package bridge connects enhancer to the host application. The host pushes
// provider lists in; enhancer asks the host, one way, to send a fresh list.
package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jingkaihe/enhancer/pkg/provider"
)

// ProvidersHandler receives each provider list the host pushes.
type ProvidersHandler func(providers []provider.Provider)

// Bridge is the typed host channel. Subscribe returns the function that
// removes exactly that subscription.
type Bridge interface {
	Subscribe(handler ProvidersHandler) (unsubscribe func())
	RequestProviders(ctx context.Context) error
}

// Emitter is an in-process Bridge. Publish fans a list out to every
// subscriber; RequestProviders delegates to the optional requester.
type Emitter struct {
	mu        sync.RWMutex
	handlers  map[string]ProvidersHandler
	order     []string
	requester func(ctx context.Context) error
}

// NewEmitter creates an Emitter. requester may be nil, in which case
// RequestProviders is a no-op.
func NewEmitter(requester func(ctx context.Context) error) *Emitter {
	return &Emitter{
		handlers:  map[string]ProvidersHandler{},
		requester: requester,
	}
}

func (e *Emitter) Subscribe(handler ProvidersHandler) func() {
	id := uuid.New().String()

	e.mu.Lock()
	e.handlers[id] = handler
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.handlers, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Publish delivers providers to subscribers in subscription order. Handlers
// run outside the lock so they may unsubscribe themselves.
func (e *Emitter) Publish(providers []provider.Provider) {
	e.mu.RLock()
	handlers := make([]ProvidersHandler, 0, len(e.order))
	for _, id := range e.order {
		handlers = append(handlers, e.handlers[id])
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(providers)
	}
}

// Subscribers reports the number of live subscriptions.
func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

func (e *Emitter) RequestProviders(ctx context.Context) error {
	if e.requester == nil {
		return nil
	}
	return e.requester(ctx)
}

package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_PublishReachesSubscribersInOrder(t *testing.T) {
	e := NewEmitter(nil)
	var calls []string

	e.Subscribe(func(p []provider.Provider) { calls = append(calls, "first:"+p[0].ID) })
	e.Subscribe(func(p []provider.Provider) { calls = append(calls, "second:"+p[0].ID) })

	e.Publish([]provider.Provider{{ID: "p1"}})
	assert.Equal(t, []string{"first:p1", "second:p1"}, calls)
}

func TestEmitter_UnsubscribeRemovesOnlyItsOwnHandler(t *testing.T) {
	e := NewEmitter(nil)
	var old, current int

	unsubscribeOld := e.Subscribe(func([]provider.Provider) { old++ })
	unsubscribeCurrent := e.Subscribe(func([]provider.Provider) { current++ })
	assert.Equal(t, 2, e.Subscribers())

	unsubscribeOld()
	unsubscribeOld() // idempotent
	e.Publish(nil)

	assert.Equal(t, 0, old)
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, e.Subscribers())

	unsubscribeCurrent()
	assert.Equal(t, 0, e.Subscribers())
}

func TestEmitter_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	e := NewEmitter(nil)
	var unsubscribe func()
	calls := 0
	unsubscribe = e.Subscribe(func([]provider.Provider) {
		calls++
		unsubscribe()
	})

	e.Publish(nil)
	e.Publish(nil)
	assert.Equal(t, 1, calls)
}

func TestEmitter_RequestProviders(t *testing.T) {
	assert.NoError(t, NewEmitter(nil).RequestProviders(context.Background()))

	requested := 0
	e := NewEmitter(func(context.Context) error {
		requested++
		return nil
	})
	require.NoError(t, e.RequestProviders(context.Background()))
	assert.Equal(t, 1, requested)

	failing := NewEmitter(func(context.Context) error { return errors.New("host gone") })
	assert.EqualError(t, failing.RequestProviders(context.Background()), "host gone")
}

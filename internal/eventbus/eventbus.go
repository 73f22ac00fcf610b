// Package eventbus dispatches lifecycle events to in-process subscribers.
// Handlers run synchronously on the publishing goroutine, so they must not
// block.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

type subscription struct {
	id uint64
	fn func(context.Context, any)
}

// Bus is a typed in-process event dispatcher.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[reflect.Type][]subscription
}

func New() *Bus { return &Bus{subs: make(map[reflect.Type][]subscription)} }

func (b *Bus) add(t reflect.Type, fn func(context.Context, any)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

func (b *Bus) remove(t reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, t)
		return
	}
	b.subs[t] = subs
}

func (b *Bus) emit(ctx context.Context, t reflect.Type, e any) {
	b.mu.RLock()
	subs := b.subs[t]
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ctx, e)
	}
}

// On registers h on b for events of type T.
func On[T any](b *Bus, h Handler[T]) (unsubscribe func()) {
	t := reflect.TypeFor[T]()
	return b.add(t, func(ctx context.Context, v any) { h(ctx, v.(T)) })
}

// Emit sends e to the subscribers of T on b.
func Emit[T any](ctx context.Context, b *Bus, e T) {
	if b == nil {
		return
	}
	b.emit(ctx, reflect.TypeFor[T](), e)
}

var global atomic.Pointer[Bus]

// Use installs b as the process-wide bus. Nil disables publishing.
func Use(b *Bus) { global.Store(b) }

// Current returns the process-wide bus, or nil.
func Current() *Bus { return global.Load() }

// Subscribe registers h with the process-wide bus. It is a no-op when no bus
// is installed.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	if b := global.Load(); b != nil {
		return On(b, h)
	}
	return func() {}
}

// Publish sends e through the process-wide bus.
func Publish[T any](ctx context.Context, e T) {
	Emit(ctx, global.Load(), e)
}

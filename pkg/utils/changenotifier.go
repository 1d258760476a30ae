package utils

import (
	"sort"
	"sync"
)

// ChangeNotifier fans a value out to keyed observers. Observers are invoked
// synchronously, in key order, on the notifying goroutine.
type ChangeNotifier[T any] struct {
	lock      sync.Mutex
	observers map[string]func(T)
}

func NewChangeNotifier[T any]() *ChangeNotifier[T] {
	return &ChangeNotifier[T]{
		observers: make(map[string]func(T)),
	}
}

func (n *ChangeNotifier[T]) AddObserver(key string, onChanged func(T)) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.observers[key] = onChanged
}

func (n *ChangeNotifier[T]) RemoveObserver(key string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	delete(n.observers, key)
}

func (n *ChangeNotifier[T]) HasObservers() bool {
	n.lock.Lock()
	defer n.lock.Unlock()

	return len(n.observers) > 0
}

func (n *ChangeNotifier[T]) NotifyChanged(value T) {
	n.lock.Lock()
	if len(n.observers) == 0 {
		n.lock.Unlock()
		return
	}
	keys := make([]string, 0, len(n.observers))
	for k := range n.observers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	observers := make([]func(T), 0, len(keys))
	for _, k := range keys {
		observers = append(observers, n.observers[k])
	}
	n.lock.Unlock()

	for _, f := range observers {
		f(value)
	}
}

package valuesync

import (
	"sync/atomic"
	"weak"
)

// Cell is the read projection of the synchronized value. It has no
// mutation entry point: mutation happens through the strategy's apply,
// or by whoever owns the value in weak mode.
type Cell[T any] interface {
	// Access returns the value, or ErrValueUnavailable once a weakly
	// held value has been released.
	Access() (*T, error)
}

// Retained exclusively owns its value for the manager's lifetime;
// access always succeeds.
type Retained[T any] struct {
	value *T
}

func Retain[T any](value *T) *Retained[T] {
	return &Retained[T]{value: value}
}

func (r *Retained[T]) Access() (*T, error) {
	return r.value, nil
}

// Weak observes a value owned elsewhere. Access fails once the owner
// drops it, and the transition is monotonic: after the first failure
// the cell stays absent even if the pointer were somehow revived.
type Weak[T any] struct {
	ptr    weak.Pointer[T]
	absent atomic.Bool
}

func Observe[T any](value *T) *Weak[T] {
	return &Weak[T]{ptr: weak.Make(value)}
}

func (w *Weak[T]) Access() (*T, error) {
	if w.absent.Load() {
		return nil, ErrValueUnavailable
	}
	value := w.ptr.Value()
	if value == nil {
		w.absent.Store(true)
		return nil, ErrValueUnavailable
	}
	return value, nil
}

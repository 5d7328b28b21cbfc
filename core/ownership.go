package core

import (
	"sync"
	"sync/atomic"
)

const anonymousOwner = "anonymous"

// Cell holds a single value with at most one logical owner.
//
// All access goes through the cell's mutex, so at most one goroutine observes
// the value at a time. Transfer moves the value out and leaves the cell empty;
// every later borrow or transfer fails with ErrNotOwned.
//
// owned and owner are written under mu but read without it, so IsAvailable
// and Owner never block, even from inside a borrow.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	owned  atomic.Bool
	owner  atomic.Pointer[string]
	logger Logger
}

// CellOption configures a Cell.
type CellOption func(*cellOptions)

type cellOptions struct {
	logger Logger
}

// WithCellLogger logs ownership transfers to logger.
func WithCellLogger(logger Logger) CellOption {
	return func(o *cellOptions) { o.logger = logger }
}

// NewCell creates a cell owning value on behalf of owner.
// An empty owner label becomes "anonymous".
func NewCell[T any](value T, owner string, opts ...CellOption) *Cell[T] {
	var o cellOptions
	for _, opt := range opts {
		opt(&o)
	}
	if owner == "" {
		owner = anonymousOwner
	}
	c := &Cell[T]{
		value:  value,
		logger: orNoOp(o.logger),
	}
	c.owned.Store(true)
	c.owner.Store(&owner)
	return c
}

// BorrowShared calls f with a copy of the value while holding the cell.
func (c *Cell[T]) BorrowShared(f func(v T) error) error {
	_, err := Borrow(c, func(v T) (struct{}, error) {
		return struct{}{}, f(v)
	})
	return err
}

// BorrowExclusive calls f with a pointer to the value while holding the cell.
// The pointer must not escape f.
func (c *Cell[T]) BorrowExclusive(f func(v *T) error) error {
	_, err := BorrowMut(c, func(v *T) (struct{}, error) {
		return struct{}{}, f(v)
	})
	return err
}

// Borrow is BorrowShared returning f's result.
func Borrow[T, R any](c *Cell[T], f func(v T) (R, error)) (R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owned.Load() {
		var zero R
		return zero, ErrNotOwned
	}
	return f(c.value)
}

// BorrowMut is BorrowExclusive returning f's result.
func BorrowMut[T, R any](c *Cell[T], f func(v *T) (R, error)) (R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owned.Load() {
		var zero R
		return zero, ErrNotOwned
	}
	return f(&c.value)
}

// Transfer empties the cell and hands the value to the caller, who becomes
// its exclusive holder under the newOwner label.
func (c *Cell[T]) Transfer(newOwner string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.owned.Load() {
		return zero, ErrNotOwned
	}
	if newOwner == "" {
		newOwner = anonymousOwner
	}

	c.logger.Debug("ownership transferred", F("from", c.Owner()), F("to", newOwner))

	v := c.value
	c.value = zero
	c.owned.Store(false)
	c.owner.Store(&newOwner)
	return v, nil
}

// TransferTo moves the value into a fresh cell owned by newOwner.
func (c *Cell[T]) TransferTo(newOwner string) (*Cell[T], error) {
	v, err := c.Transfer(newOwner)
	if err != nil {
		return nil, err
	}
	return NewCell(v, newOwner, WithCellLogger(c.logger)), nil
}

// IsAvailable reports whether the cell still holds its value. It does not
// wait for borrows in progress.
func (c *Cell[T]) IsAvailable() bool {
	return c.owned.Load()
}

// Owner returns the current owner label. After a transfer this is the
// label of the receiving owner.
func (c *Cell[T]) Owner() string {
	return *c.owner.Load()
}

// Package frame provides the append-only column frame shared by the
// scoring pipeline phases.
package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnExists enforces the append-only contract: once written, a
	// column is never renamed or overwritten.
	ErrColumnExists = errors.New("column already exists")

	// ErrLengthMismatch rejects a column whose length differs from the
	// frame's row count.
	ErrLengthMismatch = errors.New("column length does not match frame")
)

// Frame is a fixed-row-count table of named columns. The orchestrator
// owns the frame; phases receive it by reference and only append columns.
type Frame struct {
	n     int
	order []string

	floats map[string][]float64
	ints   map[string][]int64
	strs   map[string][]string
	lists  map[string][][]float64
}

// New creates an empty frame with n rows.
func New(n int) *Frame {
	return &Frame{
		n:      n,
		floats: make(map[string][]float64),
		ints:   make(map[string][]int64),
		strs:   make(map[string][]string),
		lists:  make(map[string][][]float64),
	}
}

// Len returns the row count.
func (f *Frame) Len() int {
	return f.n
}

// Columns returns the column names in append order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Has reports whether the named column exists.
func (f *Frame) Has(name string) bool {
	if _, ok := f.floats[name]; ok {
		return true
	}
	if _, ok := f.ints[name]; ok {
		return true
	}
	if _, ok := f.strs[name]; ok {
		return true
	}
	_, ok := f.lists[name]
	return ok
}

// AddFloats appends a float64 column.
func (f *Frame) AddFloats(name string, vals []float64) error {
	if err := f.check(name, len(vals)); err != nil {
		return err
	}
	f.floats[name] = vals
	f.order = append(f.order, name)
	return nil
}

// AddInts appends an int64 column.
func (f *Frame) AddInts(name string, vals []int64) error {
	if err := f.check(name, len(vals)); err != nil {
		return err
	}
	f.ints[name] = vals
	f.order = append(f.order, name)
	return nil
}

// AddStrings appends a string column.
func (f *Frame) AddStrings(name string, vals []string) error {
	if err := f.check(name, len(vals)); err != nil {
		return err
	}
	f.strs[name] = vals
	f.order = append(f.order, name)
	return nil
}

// AddLists appends a score-list column ([]float64 per row).
func (f *Frame) AddLists(name string, vals [][]float64) error {
	if err := f.check(name, len(vals)); err != nil {
		return err
	}
	f.lists[name] = vals
	f.order = append(f.order, name)
	return nil
}

// Floats returns a float column.
func (f *Frame) Floats(name string) ([]float64, bool) {
	vals, ok := f.floats[name]
	return vals, ok
}

// Ints returns an int column.
func (f *Frame) Ints(name string) ([]int64, bool) {
	vals, ok := f.ints[name]
	return vals, ok
}

// Strings returns a string column.
func (f *Frame) Strings(name string) ([]string, bool) {
	vals, ok := f.strs[name]
	return vals, ok
}

// Lists returns a score-list column.
func (f *Frame) Lists(name string) ([][]float64, bool) {
	vals, ok := f.lists[name]
	return vals, ok
}

func (f *Frame) check(name string, n int) error {
	if f.Has(name) {
		return fmt.Errorf("%w: %s", ErrColumnExists, name)
	}
	if n != f.n {
		return fmt.Errorf("%w: %s has %d values, frame has %d rows", ErrLengthMismatch, name, n, f.n)
	}
	return nil
}

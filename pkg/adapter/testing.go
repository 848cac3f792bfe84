package adapter

import (
	"context"
)

// TB is the part of testing.TB that Watch needs.
type TB interface {
	Name() string
	Failed() bool
	Skipped() bool
	Cleanup(func())
}

// TestFailure is the failure reported for a failed Go test.
type TestFailure struct {
	Name string
}

func (f *TestFailure) Error() string {
	return FallbackDescription + ": " + f.Name
}

// Watch reports t as a failed step when it ends failed. Passing and skipped
// tests report nothing.
func Watch(t TB, reporter Reporter, opts ...Option) {
	listener := NewListener(reporter, opts...)
	unit := listener.Begin(t.Name())
	t.Cleanup(func() {
		if t.Skipped() {
			return
		}
		var err error
		if t.Failed() {
			err = &TestFailure{Name: t.Name()}
		}
		unit.End(context.Background(), err)
	})
}

// Package breach reports whether a password appears in a known breach corpus.
package breach

import "context"

// Checker is consumed by the vault when a credential is added. IsBreached
// never fails: an implementation that cannot reach its data source reports
// false.
type Checker interface {
	IsBreached(ctx context.Context, password string) bool
}

// Nop is a Checker that never reports a breach.
var Nop Checker = nopChecker{}

type nopChecker struct{}

func (nopChecker) IsBreached(context.Context, string) bool { return false }

// Func adapts an ordinary function to the Checker interface.
type Func func(ctx context.Context, password string) bool

// IsBreached calls f(ctx, password).
func (f Func) IsBreached(ctx context.Context, password string) bool {
	return f(ctx, password)
}

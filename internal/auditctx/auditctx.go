// Package auditctx threads per-call identity (request id, user id,
// source IP) through log emission and audit writes via an explicit
// context value, per design note §9: "pass an explicit context value
// into every call that may log or audit, rather than relying on
// thread-local storage."
package auditctx

import "context"

type key int

const identityKey key = 0

// Identity is the attribution snapshot carried alongside a context,
// used as Execution.TriggeredBy and alert acknowledged_by.
type Identity struct {
	RequestID   string
	UserID      string
	Username    string
	DisplayName string
	IP          string
}

// With attaches an Identity to ctx.
func With(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// From returns the Identity attached to ctx, or the zero value if none.
func From(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

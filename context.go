package bettershare

import (
	"context"
)

type storeKey struct{}

// NewContext returns a copy of ctx that carries s.
func NewContext(ctx context.Context, s *Store) context.Context {
	if ctx == nil || s == nil {
		return ctx
	}
	return context.WithValue(ctx, storeKey{}, s)
}

// FromContext returns the Store carried by ctx, or nil.
func FromContext(ctx context.Context) *Store {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(storeKey{}).(*Store)
	return s
}

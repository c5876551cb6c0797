// Package cont carries the authenticated user through a request context.
package cont

import (
	"aprendecomigo/entity"
	"context"
)

type userKey struct{}

// PutUser stores a copy of user; later changes to user are not visible to
// handlers. A nil user leaves the context unchanged.
func PutUser(ctx context.Context, user *entity.User) context.Context {
	if user == nil {
		return ctx
	}
	stored := *user
	return context.WithValue(ctx, userKey{}, &stored)
}

// GetUser returns the authenticated user, or an empty user for guest requests.
func GetUser(ctx context.Context) *entity.User {
	if user, ok := ctx.Value(userKey{}).(*entity.User); ok {
		c := *user
		return &c
	}
	return &entity.User{}
}

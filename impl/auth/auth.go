package auth

import (
	"aprendecomigo/entity"
	"aprendecomigo/lib/errs"
	"context"
	"fmt"
)

type Database interface {
	GetUser(ctx context.Context, token string) (*entity.User, error)
}

type Auth struct {
	db Database
}

func New(db Database) *Auth {
	return &Auth{db: db}
}

func (a Auth) UserByToken(ctx context.Context, token string) (*entity.User, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	if token == "" {
		return nil, errs.New(errs.CodeForbidden, "empty token")
	}
	return a.db.GetUser(ctx, token)
}

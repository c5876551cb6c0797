package entity

import (
	"aprendecomigo/lib/validate"
	"net/http"
	"time"
)

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleSchoolOwner Role = "school_owner"
	RoleSchoolAdmin Role = "school_admin"
	RoleTeacher     Role = "teacher"
	RoleGuardian    Role = "guardian"
	RoleStudent     Role = "student"
)

// User is an API user authenticated by a bearer token.
type User struct {
	ID        string    `json:"id" bson:"_id" validate:"required"`
	Username  string    `json:"username" bson:"username" validate:"required"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email" validate:"required,email"`
	Token     string    `json:"-" bson:"token" validate:"required,min=1"`
	Role      Role      `json:"role" bson:"role"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

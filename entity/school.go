package entity

import (
	"aprendecomigo/lib/validate"
	"net/http"
	"strings"
	"time"

	"github.com/biter777/countries"
)

type School struct {
	ID       string `json:"id" bson:"_id"`
	Name     string `json:"name" bson:"name" validate:"required"`
	Country  string `json:"country" bson:"country"`
	Timezone string `json:"timezone" bson:"timezone" validate:"omitempty,timezone"`
	OwnerID  string `json:"owner_id" bson:"owner_id"`
}

func (s *School) Bind(_ *http.Request) error {
	s.Name = strings.TrimSpace(s.Name)
	if err := validate.Struct(s); err != nil {
		return err
	}
	s.Country = s.CountryCode()
	return nil
}

// CountryCode normalizes a country name or code to ISO 3166-1 alpha-2,
// returning an empty string when the country is unknown.
func (s *School) CountryCode() string {
	if s.Country == "" {
		return ""
	}
	if len(s.Country) == 2 {
		return strings.ToUpper(s.Country)
	}
	code := countries.ByName(s.Country).Alpha2()
	if len(code) == 2 {
		return code
	}
	return ""
}

// SchoolMembership links a person to a school with a role. Accepting an
// invitation creates exactly one membership per (school, email, role).
type SchoolMembership struct {
	ID           string    `json:"id" bson:"_id"`
	SchoolID     string    `json:"school_id" bson:"school_id"`
	Email        string    `json:"email" bson:"email"`
	UserID       string    `json:"user_id,omitempty" bson:"user_id,omitempty"`
	Role         Role      `json:"role" bson:"role"`
	InvitationID string    `json:"invitation_id,omitempty" bson:"invitation_id,omitempty"`
	JoinedAt     time.Time `json:"joined_at" bson:"joined_at"`
}

// CanManage reports whether the membership role is allowed to invite people
// and administer family relationships for the school.
func (m *SchoolMembership) CanManage() bool {
	return m.Role == RoleSchoolOwner || m.Role == RoleSchoolAdmin
}

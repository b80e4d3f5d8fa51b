package model

import (
	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

// SessionClaims are the claims of the portal's bearer tokens. The subject
// identifies the chat session a prediction belongs to.
type SessionClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

func (c *SessionClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

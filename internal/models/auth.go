package models

import "github.com/golang-jwt/jwt/v5"

const (
	RoleClient    = "CLIENT"
	RoleDeliverer = "DELIVERER"
	RoleAdmin     = "ADMIN"
)

// Claims are the JWT claims issued by the authentication collaborator.
// The subject is the user ID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller, threaded explicitly through handlers.
type Identity struct {
	UserID string
	Role   string
}

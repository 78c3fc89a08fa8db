package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the token shape for operator API callers. UserID and
// WorkspaceID are always required; Role is required on access tokens and
// feeds the rbac middleware. The workspace here is the caller's home
// workspace, not necessarily the one being operated on: super-admin
// cross-workspace access is resolved per request in the handlers.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}

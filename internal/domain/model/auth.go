package model

import "time"

// AuthResult is the contract returned by the external Auth collaborator's
// validate_token(token) call: valid, user_id, email, permissions, expires_at.
type AuthResult struct {
	Valid       bool
	UserID      string
	Email       string
	Permissions []string
	ExpiresAt   time.Time
}

package models

// AuthContext is the identity resolved from a bearer token, attached to the
// request context by the auth middleware.
type AuthContext struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// CanAccess applies the user-scope rule: a caller may touch a user's data
// when it is their own or when they hold the admin flag.
func (a *AuthContext) CanAccess(userID string) bool {
	if a == nil {
		return false
	}
	return a.IsAdmin || (a.UserID != "" && a.UserID == userID)
}

// SecurityAuditEvent records an authorization violation for the audit trail
type SecurityAuditEvent struct {
	TokenUserID  string `json:"token_user_id"`
	TargetUserID string `json:"target_user_id"`
	Path         string `json:"path"`
	Method       string `json:"method"`
	RemoteAddr   string `json:"remote_addr"`
}

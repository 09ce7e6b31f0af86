package models

// Actor is the caller identity asserted by the identity layer.
type Actor struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Owns reports whether the actor is the owner of m.
func (a Actor) Owns(m *Meeting) bool {
	return m != nil && a.UserID != "" && a.UserID == m.UserID
}

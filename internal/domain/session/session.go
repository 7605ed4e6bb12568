// internal/domain/session/session.go

package session

// Session identifies the viewer on whose behalf messages are filtered and
// sent. It is constructed per request or per connection and passed
// explicitly, never held in process-wide state, so independent instances
// can coexist in tests and in a single process.
type Session struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Valid reports whether the session carries enough identity to send.
func (s Session) Valid() bool {
	return s.UserID != ""
}

package core

// Session is the license-session echo stored in the Secret pouch
// (spec §3).
type Session struct {
	ID        *string
	Timestamp *int64 // unix-ms
}

// Secret is the Secret pouch's persisted payload (spec §3).
type Secret struct {
	LicenseKey     *string
	Session        Session
	Authentication *string
}

// MergeSession applies the session-update rule from spec §3/§8: replace
// only if the new record has a non-null timestamp and no older timestamp
// than the current one.
func (s *Secret) MergeSession(next Session) bool {
	if next.Timestamp == nil {
		return false
	}
	if s.Session.Timestamp != nil && *next.Timestamp < *s.Session.Timestamp {
		return false
	}
	s.Session = next
	return true
}

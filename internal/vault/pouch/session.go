package pouch

// SessionEcho is one in-memory HTTP session echo used by the console-service
// client collaborator (spec §4.2: "in-memory HTTP session echoes" — never
// persisted, since the console service itself is the source of truth).
type SessionEcho struct {
	ID      string
	Payload map[string]string
}

// SessionPouch holds in-memory-only session echoes; it has no Save/Load —
// unlike the other six pouches it carries no on-disk representation
// (spec §4.2).
type SessionPouch struct {
	sessions map[string]SessionEcho
}

// NewSessionPouch returns an empty SessionPouch.
func NewSessionPouch() *SessionPouch {
	return &SessionPouch{sessions: make(map[string]SessionEcho)}
}

// Get returns the echo for id, if present.
func (p *SessionPouch) Get(id string) (SessionEcho, bool) {
	s, ok := p.sessions[id]
	return s, ok
}

// Put inserts or replaces a session echo.
func (p *SessionPouch) Put(s SessionEcho) { p.sessions[s.ID] = s }

// Delete removes a session echo.
func (p *SessionPouch) Delete(id string) { delete(p.sessions, id) }

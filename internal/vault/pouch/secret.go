package pouch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/scoutflo/flecsd-core/internal/core"
)

const (
	sessionFileName = ".session_id"
	licenseFileName = ".license"
)

// SecretPouch holds the license key, session echo, and cached auth
// response (spec §3 "Secret state"), grounded on
// original_source/flecs-core/src/vault/pouch/secret.rs.
type SecretPouch struct {
	secret core.Secret
}

// NewSecretPouch returns an empty SecretPouch.
func NewSecretPouch() *SecretPouch { return &SecretPouch{} }

// Get returns a copy of the current secret state.
func (p *SecretPouch) Get() core.Secret { return p.secret }

// SetLicenseKey sets the license key.
func (p *SecretPouch) SetLicenseKey(key string) { p.secret.LicenseKey = &key }

// SetAuthentication sets the cached authentication response.
func (p *SecretPouch) SetAuthentication(auth string) { p.secret.Authentication = &auth }

// SetSession applies the session-update rule (spec §3/§8): replace only if
// next has a non-null timestamp and is no older than the current session.
func (p *SecretPouch) SetSession(next core.Session) bool { return p.secret.MergeSession(next) }

// Session returns the current session echo.
func (p *SecretPouch) Session() core.Session { return p.secret.Session }

// Save writes .session_id and .license under dir (spec §6 layout),
// grounded on secret.rs's save_session/save_license.
func (p *SecretPouch) Save(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pouch: mkdir %s: %w", dir, err)
	}

	var sessionContent string
	switch {
	case p.secret.Session.ID != nil && p.secret.Session.Timestamp != nil:
		sessionContent = fmt.Sprintf("%s\n%d", *p.secret.Session.ID, *p.secret.Session.Timestamp)
	case p.secret.Session.ID != nil:
		sessionContent = *p.secret.Session.ID
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, sessionFileName), []byte(sessionContent), 0o600); err != nil {
		return fmt.Errorf("pouch: write session file: %w", err)
	}

	var licenseContent string
	if p.secret.LicenseKey != nil {
		licenseContent = *p.secret.LicenseKey
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, licenseFileName), []byte(licenseContent), 0o600); err != nil {
		return fmt.Errorf("pouch: write license file: %w", err)
	}
	return nil
}

// Load reads .session_id and .license under dir, tolerating either file
// being absent (nothing persisted yet).
func (p *SecretPouch) Load(fs afero.Fs, dir string) error {
	if data, err := afero.ReadFile(fs, filepath.Join(dir, sessionFileName)); err == nil {
		lines := strings.SplitN(string(data), "\n", 2)
		if len(lines) > 0 && lines[0] != "" {
			id := lines[0]
			p.secret.Session.ID = &id
		}
		if len(lines) > 1 {
			if ts, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64); err == nil {
				p.secret.Session.Timestamp = &ts
			}
		}
	} else if !isNotExist(err) {
		return fmt.Errorf("pouch: read session file: %w", err)
	}

	if data, err := afero.ReadFile(fs, filepath.Join(dir, licenseFileName)); err == nil {
		if key := strings.SplitN(string(data), "\n", 2)[0]; key != "" {
			p.secret.LicenseKey = &key
		}
	} else if !isNotExist(err) {
		return fmt.Errorf("pouch: read license file: %w", err)
	}
	return nil
}

package ws

import (
	"net/http"

	"ocpphub/backend/libs/auth"
)

// BasicAuth checks HTTP Basic credentials of connecting stations against bcrypt hashes. The
// username must equal the station id.
type BasicAuth struct {
	hashes map[string]string
	hasher auth.Hasher
}

// NewBasicAuth returns nil when no credentials are configured, which disables the check.
func NewBasicAuth(hashes map[string]string) *BasicAuth {
	if len(hashes) == 0 {
		return nil
	}
	a := &BasicAuth{hashes: make(map[string]string, len(hashes)), hasher: auth.NewBcryptHasher(0)}
	for station, hash := range hashes {
		a.hashes[station] = hash
	}
	return a
}

// Authenticate reports whether r carries valid credentials for stationID.
func (a *BasicAuth) Authenticate(stationID string, r *http.Request) bool {
	if a == nil {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != stationID {
		return false
	}
	hash, ok := a.hashes[stationID]
	if !ok {
		return false
	}
	return a.hasher.Compare(hash, pass) == nil
}

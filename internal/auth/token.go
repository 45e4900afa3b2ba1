// Package auth guards the archive API with a shared service token. The
// dashboard backend is the only intended caller; its own user sessions
// and roles stay on its side of the seam, this layer just keeps
// strangers out.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// HeaderServiceToken carries the shared token on API requests.
const HeaderServiceToken = "X-Service-Token"

// Verifier checks presented tokens against the configured one in
// constant time. A Verifier built from an empty token is disabled and
// rejects everything; routing decides whether to mount it at all.
type Verifier struct {
	digest  [sha256.Size]byte
	enabled bool
}

// NewVerifier builds a Verifier for the given shared token.
func NewVerifier(token string) *Verifier {
	if token == "" {
		return &Verifier{}
	}
	return &Verifier{digest: sha256.Sum256([]byte(token)), enabled: true}
}

// Enabled reports whether a token is configured.
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// Verify reports whether candidate matches the configured token. The
// comparison runs over fixed-length digests so neither token length nor
// a partial match leaks through timing.
func (v *Verifier) Verify(candidate string) bool {
	if !v.enabled {
		return false
	}
	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(sum[:], v.digest[:]) == 1
}

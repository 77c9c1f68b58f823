package connectors

import "errors"

// Error kinds adapters and the indexer classify failures with. Run-fatal
// kinds abort the run; everything else is counted and skipped per item.
var (
	// ErrMissingCredentials - required config keys absent at run start.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrInvalidCredentials - the source rejected the credential.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAuthenticationExpired - OAuth refresh failed; user must re-auth.
	ErrAuthenticationExpired = errors.New("authentication expired")

	// ErrRateLimited - retries exhausted against 429s.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient - 5xx, timeout or connection drop after retries.
	ErrTransient = errors.New("transient source error")

	// ErrItemMalformed - source payload missing required fields.
	ErrItemMalformed = errors.New("item malformed")

	// ErrEtlFailed - binary extraction returned empty or errored.
	ErrEtlFailed = errors.New("content extraction failed")

	// ErrCursorInvalid - the source expired or rejected the stored delta
	// cursor. The indexer falls back to a full scan.
	ErrCursorInvalid = errors.New("delta cursor invalid")
)

// IsRunFatal reports whether the error aborts the whole run rather than
// skipping the item.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAuthenticationExpired)
}

package carrier

import (
	"errors"
	"fmt"
)

// AuthError means the carrier rejected our credentials. It is fatal for a
// whole batch: callers abort before any per-recipient attempt.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("carrier authentication failed (%d): %s", e.StatusCode, e.Message)
}

// SendError means the carrier rejected or failed one message. Callers
// record it on that recipient's log row; it never aborts sibling sends.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("carrier send failed (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("carrier send failed (%d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is (or wraps) a credential rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

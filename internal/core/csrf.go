package core

import (
	"crypto/subtle"
	"net/http"

	"obrador/internal/types"
)

// CSRFHeaderName is the header clients echo the login-issued CSRF token in.
const CSRFHeaderName = "X-CSRF-Token"

// checkCSRF validates the CSRF token on mutating requests. Enforcement only
// applies when session resolution placed a CSRF token in the context, which
// happens for cookie credentials: Bearer clients attach the session id
// explicitly and are not CSRF-able.
func checkCSRF(r *http.Request) error {
	if isSafeMethod(r.Method) {
		return nil
	}

	sessionToken, ok := types.GetSessionCSRFToken(r.Context())
	if !ok {
		return nil
	}

	headerToken := r.Header.Get(CSRFHeaderName)
	if headerToken == "" {
		return types.NewAppError(types.ErrCodePermissionCSRF, "CSRF token is required for this request", nil)
	}
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(sessionToken)) != 1 {
		return types.NewAppError(types.ErrCodePermissionCSRF, "CSRF token is invalid", nil)
	}
	return nil
}

// isSafeMethod reports whether the method cannot cause state changes and is
// therefore exempt from CSRF validation.
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

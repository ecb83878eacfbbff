package middleware

// identity.go holds the context keys written by JWTAuth and the helpers that
// read them back.  The identity service writes the user id either as the
// standard "sub" claim or as "user_id", as a string or a JSON number.

import (
    "strconv"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
)

const (
    ctxUserID = "user_id"
    ctxRole   = "role"
)

// UserID returns the authenticated user's id.  ok is false on
// unauthenticated requests.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    return id, ok && id != 0
}

// Role returns the authenticated user's role, or "" when unauthenticated.
func Role(c echo.Context) string {
    r, _ := c.Get(ctxRole).(string)
    return r
}

// SetIdentity stores a caller identity in the context.  Tests and trusted
// internal callers use it in place of JWTAuth.
func SetIdentity(c echo.Context, userID uint64, role string) {
    c.Set(ctxUserID, userID)
    c.Set(ctxRole, role)
}

// userKey returns the caller id for rate limit keys, "anon" for guests.
func userKey(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}

func parseSubject(claims jwt.MapClaims) (uint64, bool) {
    for _, k := range []string{"sub", "user_id"} {
        switch v := claims[k].(type) {
        case string:
            if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
                return n, true
            }
        case float64:
            if v > 0 && v == float64(uint64(v)) {
                return uint64(v), true
            }
        }
    }
    return 0, false
}

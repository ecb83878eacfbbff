package handler

import (
    "encoding/json" // json.Number carries decimal amounts exactly
    "errors"        // errors for helper failures
    "fmt"           // fmt formats amounts
    "strconv"       // strconv parses path parameters and amounts
    "strings"       // strings splits decimal amounts

    "github.com/labstack/echo/v4" // echo context

    "github.com/iliyamo/cinema-booking-engine/internal/middleware" // caller identity
)

// getUserID returns the authenticated caller stored by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	if id, ok := middleware.UserID(c); ok {
		return id, nil
	}
	return 0, errors.New("invalid user_id in context")
}

// parseIDParam reads a positive integer path parameter.
func parseIDParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

var errBadAmount = errors.New("amount must be a non-negative decimal")

// amountToCents converts a decimal amount such as 27, 27.5 or "30.50" to
// cents.  Digits past the second decimal round half away from zero.
func amountToCents(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" || strings.HasPrefix(s, "-") || strings.ContainsAny(s, "eE") {
		return 0, errBadAmount
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errBadAmount
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, errBadAmount
		}
	}
	frac += "000"
	cents, _ := strconv.ParseInt(frac[:2], 10, 64)
	total := units*100 + cents
	if frac[2] >= '5' {
		total++
	}
	return total, nil
}

// formatCents renders cents as a decimal string, e.g. 2700 -> "27.00".
func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

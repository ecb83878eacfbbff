package handler // declare the package name; contains HTTP handlers

import (
    "context"  // context bounds each dependency check
    "net/http" // net/http provides status codes and response helpers
    "sort"     // sort keeps the check order stable
    "time"     // time bounds the checks

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Check probes one dependency.  A nil error means healthy.
type Check func(ctx context.Context) error

// Health is the liveness endpoint used by load balancers and monitoring
// systems.  It returns a plain text "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready returns a readiness handler that runs every named check with a
// short timeout.  Any failure answers 503 with the per-dependency status.
func Ready(checks map[string]Check) echo.HandlerFunc {
    names := make([]string, 0, len(checks))
    for name := range checks {
        names = append(names, name)
    }
    sort.Strings(names)
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()
        status := http.StatusOK
        result := make(map[string]string, len(names))
        for _, name := range names {
            if err := checks[name](ctx); err != nil {
                status = http.StatusServiceUnavailable
                result[name] = err.Error()
                continue
            }
            result[name] = "ok"
        }
        return c.JSON(status, echo.Map{"checks": result})
    }
}

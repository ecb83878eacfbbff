package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"                 // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware" // recover and request logging
	"go.uber.org/zap"                               // structured request logs

	"github.com/iliyamo/cinema-booking-engine/internal/handler"    // HTTP handlers
	"github.com/iliyamo/cinema-booking-engine/internal/middleware" // JWT, roles, cache and rate limiting
	"github.com/iliyamo/cinema-booking-engine/internal/model"      // role names
)

// New returns an Echo instance with panic recovery and zap request logging.
func New(log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	return e
}

// RegisterRoutes registers routes that do not require authentication: the
// liveness check and the readiness check over the given dependencies.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(checks))
}

// RegisterPublic registers the unauthenticated schedule view.  When a
// response cache is configured the view is served through it; bookings
// invalidate the cached entry.
func RegisterPublic(e *echo.Echo, s *handler.ScheduleHandler, cache *middleware.ResponseCache) {
	var mws []echo.MiddlewareFunc
	if cache != nil {
		mws = append(mws, cache.Middleware())
	}
	e.GET("/v1/schedules/:id", s.GetSchedule, mws...)
}

// RegisterBooking registers booking endpoints under /v1.  All routes
// require a valid JWT with a known role.  Booking creation additionally
// passes through the rate limiter when one is provided.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer, model.RoleAdmin, model.RoleStaff),
	)
	var create []echo.MiddlewareFunc
	if limiter != nil {
		create = append(create, limiter)
	}
	g.POST("/bookings", b.CreateBooking, create...)
	g.GET("/bookings/:id", b.GetBooking)
	g.GET("/my-bookings", b.ListMyBookings)
}

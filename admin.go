package pagepress

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts, try again later")
	}
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	want := a.Config.Admin.Password
	if want == "" || subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 {
		a.loginLimiter.Record(ip)
		a.Logger.Warn("Failed login", slog.String("ip", ip))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid password")
	}
	a.loginLimiter.Reset(ip)
	if err := setAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"authenticated": true, "csrfToken": CsrfToken(c)})
}

func handleLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleSession reports whether the caller is logged in and hands out the
// CSRF token the client echoes in X-CSRF-Token.
func handleSession(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"authenticated": IsAdmin(c), "csrfToken": CsrfToken(c)})
}

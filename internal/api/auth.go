package api

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// requireAuth returns the middleware guarding mutating endpoints. With basic
// auth disabled in configuration it passes everything through.
func (c *Controller) requireAuth() echo.MiddlewareFunc {
	auth := &c.Settings.Security.BasicAuth
	if !auth.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return middleware.BasicAuth(func(username, password string, ctx echo.Context) (bool, error) {
		if subtle.ConstantTimeCompare([]byte(username), []byte(auth.Username)) != 1 {
			return false, nil
		}
		err := bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(password))
		if err != nil {
			c.apiLogger.Warn("rejected credentials",
				"username", username, "ip", ctx.RealIP())
			return false, nil
		}
		return true, nil
	})
}

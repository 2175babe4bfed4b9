package middleware

import (
	"github.com/labstack/echo/v4"
)

const hstsValue = "max-age=31536000; includeSubDomains"

// apiHeaders apply to every response. Nothing the API serves is meant to be
// framed, sniffed or cached by an intermediary.
var apiHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"X-XSS-Protection":        "0",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
	"Cache-Control":           "no-store",
}

// SecurityHeaders sets the API response headers. Strict-Transport-Security
// is only sent when hsts is true, so plain-HTTP development servers do not
// pin browsers to HTTPS.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range apiHeaders {
				h.Set(k, v)
			}
			if hsts {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}

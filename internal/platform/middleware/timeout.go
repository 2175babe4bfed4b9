package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// ErrRequestTimeout is the context cause set when a request outlives its
// deadline. Repositories surface it through context.Cause.
var ErrRequestTimeout = errors.New("request timed out")

// RequestTimeout bounds each request context and answers 504 once the
// deadline passes, whether or not the handler has returned yet. The
// websocket endpoint is long lived and is left alone.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || isWebsocketPath(c.Request().URL.Path) {
				return next(c)
			}

			ctx, cancel := context.WithTimeoutCause(c.Request().Context(), timeout, ErrRequestTimeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			var err error
			select {
			case err = <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
			if err != nil && errors.Is(context.Cause(ctx), ErrRequestTimeout) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, ErrRequestTimeout.Error())
			}
			return err
		}
	}
}

func isWebsocketPath(path string) bool {
	return path == "/ws" || strings.HasSuffix(path, "/ws")
}

package pagepress

import (
	"errors"
	"io"
	"mime"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pagepress/errs"
)

// bindJSON decodes the request body into v. Decoding failures are
// validation errors so they surface as 422 with the decoder's message.
func bindJSON(c echo.Context, op string, v any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return errs.Validation(op, "invalid request body: %v", he.Message)
		}
		return errs.Validation(op, "invalid request body: %v", err)
	}
	return nil
}

// mediaType returns the request's content type without parameters.
func mediaType(c echo.Context) string {
	mt, _, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		return ""
	}
	return mt
}

// readBody reads at most limit bytes of the request body.
func readBody(c echo.Context, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errs.Validation("read_body", "request body exceeds %d bytes", limit)
	}
	return data, nil
}

// FilterEmpty removes empty/whitespace-only strings from a slice.
func FilterEmpty(vals []string) []string {
	var out []string
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// wildcardPath returns the "*" route parameter, unescaped by echo.
func wildcardPath(c echo.Context) string {
	return strings.TrimPrefix(c.Param("*"), "/")
}

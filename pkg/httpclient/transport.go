package httpclient

import (
	"log/slog"
	"net/http"
	"time"
)

// stepTransport wraps the base http.RoundTripper for outbound step requests:
// it injects the configured User-Agent and logs one line per request with
// method, redacted URL, status and duration. A 4xx/5xx response logs at warn
// since it will fail the step that issued it.
type stepTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newStepTransport(base http.RoundTripper, userAgent string) *stepTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &stepTransport{
		base:      base,
		userAgent: userAgent,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *stepTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		slog.Warn("step request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.Int64("duration_ms", duration),
			slog.Any("error", err),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	slog.Log(req.Context(), level, "step request",
		slog.String("method", req.Method),
		slog.String("url", req.URL.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", duration),
	)

	return resp, nil
}

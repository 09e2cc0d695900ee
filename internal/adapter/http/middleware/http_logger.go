package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/farmlink/market-api/internal/logging"
)

const (
	RequestIDHeader = "X-Request-Id"
	bodyLogLimit    = 8 * 1024
	redactedValue   = "***redacted***"
)

// keys whose values never reach the access log
var redactedKeys = map[string]struct{}{
	"password":      {},
	"authorization": {},
	"token":         {},
	"access_token":  {},
	"accesscode":    {},
	"secret":        {},
	"secret_key":    {},
	"email":         {},
	"phone":         {},
}

// cappedBuffer keeps the first bodyLogLimit bytes written through a response.
type cappedBuffer struct {
	gin.ResponseWriter
	buf       bytes.Buffer
	truncated bool
}

func (w *cappedBuffer) Write(b []byte) (int, error) {
	if remain := bodyLogLimit - w.buf.Len(); remain > 0 {
		if len(b) > remain {
			w.buf.Write(b[:remain])
			w.truncated = true
		} else {
			w.buf.Write(b)
		}
	} else if len(b) > 0 {
		w.truncated = true
	}
	return w.ResponseWriter.Write(b)
}

func scrub(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if _, ok := redactedKeys[strings.ToLower(k)]; ok {
				x[k] = redactedValue
				continue
			}
			x[k] = scrub(val)
		}
	case []any:
		for i := range x {
			x[i] = scrub(x[i])
		}
	}
	return v
}

// redactJSON masks sensitive keys; non-JSON payloads are not logged at all.
func redactJSON(raw []byte, truncated bool) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		if truncated {
			return "<truncated json>"
		}
		return "<non-json body>"
	}
	out, err := json.Marshal(scrub(v))
	if err != nil {
		return ""
	}
	return string(out)
}

func readCapped(rc io.ReadCloser, n int) (body []byte, truncated bool) {
	defer rc.Close()
	var buf bytes.Buffer
	_, _ = io.CopyN(&buf, rc, int64(n+1))
	b := buf.Bytes()
	if len(b) > n {
		return b[:n], true
	}
	return b, false
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

// captureRequestBody reads the JSON body for logging and hands the untouched bytes back to the handlers.
func captureRequestBody(c *gin.Context) string {
	if c.Request.Body == nil || !isJSON(c.GetHeader("Content-Type")) {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if len(body) > bodyLogLimit {
		return redactJSON(body[:bodyLogLimit], true)
	}
	return redactJSON(body, false)
}

// Logging tags each request with an id, puts a request-scoped slog.Logger in both contexts,
// and writes one access-log line when the handler returns.
func Logging(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
			c.Request.Header.Set(RequestIDHeader, reqID)
		}
		c.Header(RequestIDHeader, reqID)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		l := base.With("req_id", reqID, "method", c.Request.Method, "route", route)
		logging.With(c, l)
		c.Request = c.Request.WithContext(logging.WithCtx(c.Request.Context(), l))

		reqBody := captureRequestBody(c)
		rw := &cappedBuffer{ResponseWriter: c.Writer}
		c.Writer = rw

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"dur_ms", time.Since(start).Milliseconds(),
			"remote", c.ClientIP(),
			"resp_bytes", c.Writer.Size(),
		}
		if reqBody != "" {
			attrs = append(attrs, "req_body", reqBody)
		}
		if isJSON(c.Writer.Header().Get("Content-Type")) {
			if resp := redactJSON(rw.buf.Bytes(), rw.truncated); resp != "" {
				attrs = append(attrs, "resp_body", resp)
			}
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			l.Error("http_request", attrs...)
		case status >= http.StatusBadRequest:
			l.Warn("http_request", attrs...)
		default:
			l.Info("http_request", attrs...)
		}
	}
}

package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/metrics"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// maxErrorBody bounds how much of an error response is kept in RemoteError
const maxErrorBody = 512

// Multipart is a request body carrying one file part plus plain form fields
type Multipart struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     []byte
	Fields      map[string]string
}

// Request performs a credentialed call. body may be nil, url.Values (form encoded),
// *Multipart, or any JSON-serializable value. out, when non-nil, receives the decoded response.
func (c *Client) Request(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	return c.do(ctx, method, path, body, query, out, true)
}

// PublicRequest performs a call that needs only the API key
func (c *Client) PublicRequest(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	return c.do(ctx, method, path, body, query, out, false)
}

func (c *Client) do(ctx context.Context, method, path string, body any, query url.Values, out any, authed bool) error {
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	target := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			metrics.RemoteRetries.Inc()
			c.logger.Warn("remote_retry",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		var token string
		if authed {
			token, err = c.creds.GetValidToken(ctx)
			if err != nil {
				return err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var status int
		var respBody []byte
		err = c.breaker.Execute(func() error {
			var attemptErr error
			status, respBody, attemptErr = c.send(ctx, method, target, payload, contentType, token)
			if attemptErr != nil {
				return &RemoteError{Method: method, Path: path, Err: attemptErr}
			}
			if status < 200 || status > 299 {
				return &RemoteError{Method: method, Path: path, Status: status, Body: truncate(respBody, maxErrorBody)}
			}
			return nil
		})
		metrics.ObserveRemote(method, status)

		if err == nil {
			return decodeBody(path, status, respBody, out)
		}

		var remote *RemoteError
		if !errors.As(err, &remote) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !remote.Transient() {
			return remote
		}
		lastErr = remote
	}

	return lastErr
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, contentType, token string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, b, nil
}

func decodeBody(path string, status int, body []byte, out any) error {
	if out == nil || status == http.StatusNoContent {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &MalformedResponseError{Path: path, Status: status, Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &MalformedResponseError{Path: path, Status: status, Err: err}
	}
	return nil
}

// encodeBody buffers the body once so every retry sends identical bytes
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case *Multipart:
		return encodeMultipart(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func encodeMultipart(m *Multipart) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range m.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	contentType := m.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(m.FieldName), quoteEscaper.Replace(m.FileName)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(m.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// refreshWindow is how close to expiry an access token may get before a
// refresh is attempted ahead of the request.
const refreshWindow = 30 * time.Second

// HTTPClient implements Client over net/http against a JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// NewHTTPClient returns a client for the API rooted at baseURL
// (e.g. "https://example.com").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

func (c *HTTPClient) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

func (c *HTTPClient) Send(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	c.refreshIfExpiring(ctx)

	return c.do(ctx, method, path, "application/json", payload)
}

func (c *HTTPClient) Upload(ctx context.Context, path string, fields map[string]string, fileName string, blob []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(blob); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	c.refreshIfExpiring(ctx)
	return c.do(ctx, http.MethodPost, path, w.FormDataContentType(), buf.Bytes())
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/status", "application/json", nil)
	return err
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// do performs one request and classifies the outcome. A 401 triggers a
// single token refresh followed by one replay.
func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	data, status, err := c.roundTrip(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			return nil, common.ErrUnauthorized
		}
		data, status, err = c.roundTrip(ctx, method, path, contentType, body)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return data, nil
	case status == http.StatusUnauthorized:
		return nil, common.ErrUnauthorized
	case status >= 400 && status < 500:
		return nil, fmt.Errorf("%w: %s", common.ErrRejected, serverError(data, status))
	default:
		return nil, fmt.Errorf("%w: %s", common.ErrTransient, serverError(data, status))
	}
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path, contentType string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentType)
	if access, _ := c.tokens(); access != "" {
		req.Header.Set(common.AuthHeaderName, "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, classifyNetError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return data, resp.StatusCode, nil
}

// refreshIfExpiring proactively refreshes the token pair when the access
// token is about to expire, so the request it is attached to does not burn
// a round trip on a predictable 401. The token is parsed unverified; only
// the exp claim is of interest, validation is the server's job.
func (c *HTTPClient) refreshIfExpiring(ctx context.Context) {
	access, refresh := c.tokens()
	if access == "" || refresh == "" {
		return
	}

	token, _, err := jwt.NewParser().ParseUnverified(access, jwt.MapClaims{})
	if err != nil {
		return
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if time.Until(exp.Time) > refreshWindow {
		return
	}

	_ = c.refresh(ctx)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

func (c *HTTPClient) refresh(ctx context.Context) error {
	_, refresh := c.tokens()
	if refresh == "" {
		return common.ErrUnauthorized
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refresh})
	if err != nil {
		return err
	}

	data, status, err := c.roundTrip(ctx, http.MethodPost, "/api/refresh", "application/json", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return common.ErrUnauthorized
	}

	var rr refreshResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return err
	}
	c.SetTokens(rr.Token, rr.RefreshToken)
	return nil
}

func classifyNetError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", common.ErrOffline, err)
}

func serverError(data []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("HTTP %d", status)
}

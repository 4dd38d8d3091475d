package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultEndpoint is the assertion-for-token exchange URL.
	DefaultEndpoint = "https://iam.api.cloud.yandex.net/iam/v1/tokens"

	// DefaultSkew is subtracted from a token's stated expiry so a token is
	// never handed out when it could expire mid-request.
	DefaultSkew = 30 * time.Second
)

// TokenSource is the credential contract shared by every client in this
// module. Implementations must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// AccessToken pairs a bearer credential with its absolute expiry. Tokens are
// replaced, never mutated.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Cache exchanges signed assertions for access tokens and serves the cached
// token to any number of concurrent callers until it approaches expiry.
// Concurrent refreshes collapse into a single exchange call.
type Cache struct {
	Signer     *Signer
	Endpoint   string
	HTTPClient *http.Client
	Skew       time.Duration

	logger *log.Logger
	now    func() time.Time

	group singleflight.Group

	mu  sync.RWMutex
	tok *AccessToken
}

func NewCache(signer *Signer, logger *log.Logger) *Cache {
	return &Cache{
		Signer:     signer,
		Endpoint:   DefaultEndpoint,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Skew:       DefaultSkew,
		logger:     logger,
		now:        time.Now,
	}
}

// Token returns a currently valid access token, performing the exchange on
// first use and again whenever the cached token's expiry minus the skew
// margin has passed. A failed exchange does not poison the cache.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.Cached(); ok {
		return tok.Value, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// A caller that waited its turn may find the slot already
		// refreshed.
		if tok, ok := c.Cached(); ok {
			return &tok, nil
		}

		// Detached from the winning caller's context so its
		// cancellation cannot fail the waiters sharing this flight.
		tok, err := c.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.tok = tok
		c.mu.Unlock()

		c.logger.Debug("token refreshed", "expires_at", tok.ExpiresAt)
		return tok, nil
	})
	if err != nil {
		return "", err
	}

	return v.(*AccessToken).Value, nil
}

// Cached returns the current token if its expiry minus the skew margin is
// still in the future.
func (c *Cache) Cached() (AccessToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.tok == nil {
		return AccessToken{}, false
	}
	if !c.now().Add(c.Skew).Before(c.tok.ExpiresAt) {
		return AccessToken{}, false
	}

	return *c.tok, true
}

type exchangeRequest struct {
	JWT string `json:"jwt"`
}

type exchangeResponse struct {
	IAMToken  string    `json:"iamToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Cache) exchange(ctx context.Context) (*AccessToken, error) {
	assertion, err := c.Signer.Sign(c.now())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(exchangeRequest{JWT: assertion})
	if err != nil {
		return nil, &AuthError{Op: "encode exchange request", Err: err}
	}

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		c.Endpoint,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, &AuthError{Op: "build exchange request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &AuthError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{
			Op: "token exchange",
			Err: fmt.Errorf(
				"unexpected status code: %d, response body: %s",
				resp.StatusCode,
				string(body),
			),
		}
	}

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &AuthError{Op: "decode exchange response", Err: err}
	}
	if out.IAMToken == "" {
		return nil, &AuthError{
			Op:  "decode exchange response",
			Err: fmt.Errorf("response carries no token"),
		}
	}

	return &AccessToken{Value: out.IAMToken, ExpiresAt: out.ExpiresAt}, nil
}

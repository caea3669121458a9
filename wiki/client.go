package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/go-querystring/query"
	"golang.org/x/time/rate"
)

// APIError is the error envelope the Action API returns with HTTP 200.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Info)
}

// requested replication lag ceiling; the platform asks read-write bots to
// send this and back off when told to
const maxLag = 5

const maxLagRetries = 3

// Client speaks the MediaWiki Action API of one site. The zero value plus a
// Host is usable for anonymous reads; call Login before writing.
//
// A session cookie jar is installed by NewClient, so construct through it
// rather than filling the struct directly when authentication is needed.
type Client struct {
	// Client is the HTTP client to use. If not set, defaults to
	// RobustHTTPClient().
	Client *http.Client
	// Host is the script path base, e.g. "https://en.wikipedia.org/w".
	Host      string
	UserAgent string
	// Limiter, when set, throttles write actions.
	Limiter *rate.Limiter

	mu       sync.Mutex
	username string
	csrf     string
}

// NewClient returns a Client for the given script path with a retrying HTTP
// client and a fresh cookie jar.
func NewClient(host string) *Client {
	httpClient := RobustHTTPClient()
	jar, err := cookiejar.New(nil)
	if err == nil {
		httpClient.Jar = jar
	}
	return &Client{
		Client: httpClient,
		Host:   host,
	}
}

func (c *Client) getClient() *http.Client {
	if c.Client == nil {
		return RobustHTTPClient()
	}
	return c.Client
}

func (c *Client) endpoint() string {
	return strings.TrimSuffix(c.Host, "/") + "/api.php"
}

func (c *Client) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "nfcbot/" + versioninfo.Short()
}

// apiValues encodes a params struct via its url tags and adds the fixed
// format parameters every call carries.
func apiValues(params any) (url.Values, error) {
	vals, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encoding request params: %w", err)
	}
	vals.Set("format", "json")
	vals.Set("formatversion", "2")
	vals.Set("maxlag", strconv.Itoa(maxLag))
	return vals, nil
}

// Get performs a read call. params is a struct with url tags; out receives
// the decoded JSON response.
func (c *Client) Get(ctx context.Context, params any, out any) error {
	vals, err := apiValues(params)
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodGet, vals, out)
}

// Post performs a write call with a form-encoded body.
func (c *Client) Post(ctx context.Context, params any, out any) error {
	vals, err := apiValues(params)
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, vals, out)
}

// Do performs one API call with already-encoded values, retrying maxlag
// waits. The response envelope is checked for an API error before out is
// decoded.
func (c *Client) Do(ctx context.Context, method string, vals url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		retryAfter, err := c.roundTrip(ctx, method, vals, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "maxlag" && attempt < maxLagRetries {
			slog.Info("waiting out replication lag", "wait", retryAfter, "attempt", attempt+1)
			select {
			case <-time.After(retryAfter):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, method string, vals url.Values, out any) (time.Duration, error) {
	uri := c.endpoint()
	var body io.Reader
	if method == http.MethodGet {
		uri += "?" + vals.Encode()
	} else {
		body = strings.NewReader(vals.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.getClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("api http status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading response body: %w", err)
	}
	var envelope struct {
		Error    *APIError       `json:"error"`
		Warnings json.RawMessage `json:"warnings"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, fmt.Errorf("decoding response envelope: %w", err)
	}
	if len(envelope.Warnings) > 0 {
		slog.Debug("api warnings", "action", vals.Get("action"), "warnings", string(envelope.Warnings))
	}
	if envelope.Error != nil {
		return parseRetryAfter(resp.Header), envelope.Error
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return 0, fmt.Errorf("decoding %s response: %w", vals.Get("action"), err)
		}
	}
	return 0, nil
}

func parseRetryAfter(h http.Header) time.Duration {
	if n, err := strconv.Atoi(h.Get("Retry-After")); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return maxLag * time.Second
}

type tokenParams struct {
	Action string `url:"action"`
	Meta   string `url:"meta"`
	Type   string `url:"type,omitempty"`
}

type tokenResponse struct {
	Query struct {
		Tokens struct {
			LoginToken string `json:"logintoken"`
			CsrfToken  string `json:"csrftoken"`
		} `json:"tokens"`
	} `json:"query"`
}

type loginParams struct {
	Action   string `url:"action"`
	Name     string `url:"lgname"`
	Password string `url:"lgpassword"`
	Token    string `url:"lgtoken"`
}

// Login authenticates with a bot password ("User@botname" form). The
// session lives in the cookie jar; the reported account name is available
// from Username afterwards.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var tok tokenResponse
	if err := c.Get(ctx, tokenParams{Action: "query", Meta: "tokens", Type: "login"}, &tok); err != nil {
		return fmt.Errorf("fetching login token: %w", err)
	}
	var resp struct {
		Login struct {
			Result   string `json:"result"`
			Reason   string `json:"reason"`
			Username string `json:"lgusername"`
		} `json:"login"`
	}
	err := c.Post(ctx, loginParams{
		Action:   "login",
		Name:     username,
		Password: password,
		Token:    tok.Query.Tokens.LoginToken,
	}, &resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Login.Result != "Success" {
		return fmt.Errorf("login %s: %s", resp.Login.Result, resp.Login.Reason)
	}
	c.mu.Lock()
	c.username = resp.Login.Username
	c.csrf = ""
	c.mu.Unlock()
	slog.Info("logged in", "site", c.Host, "username", resp.Login.Username)
	return nil
}

// Username returns the account name established by Login, or the empty
// string for an anonymous session.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// CsrfToken returns the session's edit token, fetching and caching it on
// first use. InvalidateToken drops the cache after a badtoken rejection.
func (c *Client) CsrfToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.csrf != "" {
		return c.csrf, nil
	}
	var tok tokenResponse
	if err := c.Get(ctx, tokenParams{Action: "query", Meta: "tokens"}, &tok); err != nil {
		return "", fmt.Errorf("fetching csrf token: %w", err)
	}
	if tok.Query.Tokens.CsrfToken == "" {
		return "", fmt.Errorf("empty csrf token")
	}
	c.csrf = tok.Query.Tokens.CsrfToken
	return c.csrf, nil
}

func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.csrf = ""
	c.mu.Unlock()
}

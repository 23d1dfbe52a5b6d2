package swapserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnutils"
)

const (
	// DefaultTimeout is the timeout of a single request.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody is the number of body bytes kept in an HTTPError.
	maxErrorBody = 2000
)

// defaultURLs are the public swap servers per network.
var defaultURLs = map[string]string{
	"mainnet": "https://swaps.electrum.org/api",
	"testnet": "https://swaps.electrum.org/testnet",
	"regtest": "https://localhost/api",
}

// DefaultURL returns the swap server of a network, or an empty string if
// there is none.
func DefaultURL(network string) string {
	return defaultURLs[network]
}

var (
	// ErrSwapServer is returned when the swap server cannot be reached
	// or returned a malformed response.
	ErrSwapServer = errors.New("swap server error")
)

// HTTPError is returned for non 2xx responses.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error returns a description of the failed request.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode,
		e.Body)
}

// Unwrap makes HTTP errors match ErrSwapServer.
func (e *HTTPError) Unwrap() error {
	return ErrSwapServer
}

// Client talks to the REST API of a swap server.
type Client struct {
	// URL is the base url of the api, without trailing slash.
	URL string

	// Timeout is the timeout of a single request.
	Timeout time.Duration

	// HTTPClient is the client used for requests.
	HTTPClient *http.Client
}

// NewClient creates a client for the api at url.
func NewClient(url string) *Client {
	return &Client{
		URL:        strings.TrimSuffix(url, "/"),
		Timeout:    DefaultTimeout,
		HTTPClient: &http.Client{},
	}
}

// CreateSwap requests a forward swap.
func (c *Client) CreateSwap(ctx context.Context,
	req *CreateSwapRequest) (*CreateSwapResponse, error) {

	req.Type = SwapTypeSubmarine
	if req.OrderSide == "" {
		req.OrderSide = "sell"
	}

	var resp CreateSwapResponse
	if err := c.post(ctx, "/createswap", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// CreateReverseSwap requests a reverse swap.
func (c *Client) CreateReverseSwap(ctx context.Context,
	req *CreateReverseSwapRequest) (*CreateReverseSwapResponse, error) {

	req.Type = SwapTypeReverse
	if req.OrderSide == "" {
		req.OrderSide = "buy"
	}

	var resp CreateReverseSwapResponse
	if err := c.post(ctx, "/createswap", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetPairs returns the raw getpairs body. It is returned undecoded so that
// callers can cache it as is.
func (c *Client) GetPairs(ctx context.Context) ([]byte, error) {
	raw, err := c.do(ctx, http.MethodGet, "/getpairs", nil)
	if err != nil {
		return nil, err
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid pairs json", ErrSwapServer)
	}

	return raw, nil
}

func (c *Client) post(ctx context.Context, endpoint string, req,
	resp interface{}) error {

	raw, err := c.do(ctx, http.MethodPost, endpoint, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("%w: unmarshal %v response: %v",
			ErrSwapServer, endpoint, err)
	}

	log.Tracef("Response of %v: %v", endpoint,
		lnutils.SpewLogClosure(resp))

	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string,
	reqBody interface{}) ([]byte, error) {

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	url := c.URL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrSwapServer, method,
			url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v",
			ErrSwapServer, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "...(truncated)"
		}

		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: res.StatusCode,
			Body:       msg,
		}
	}

	return raw, nil
}

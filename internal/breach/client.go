package breach

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // the range API is keyed by SHA-1.
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gregjones/httpcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public Pwned Passwords range API.
const DefaultBaseURL = "https://api.pwnedpasswords.com"

const (
	prefixLen      = 5
	defaultTimeout = 10 * time.Second
	maxRetries     = 2
	maxBodySize    = 1 << 20
)

// Compile-time interface satisfaction check.
var _ Checker = (*Client)(nil)

// StatusError is returned by Lookup when the range API answers with a
// non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("range api returned status %d", e.StatusCode)
}

// Client queries a k-anonymity range API: only the first five hex characters
// of the password's SHA-1 digest leave the process.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	log       zerolog.Logger
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Logger    zerolog.Logger

	// Transport replaces the caching transport. Tests use it to point the
	// client at an httptest server without a cache in between.
	Transport http.RoundTripper
}

// NewClient creates a Client. Responses are cached in memory for the life of
// the client; every password sharing a prefix hits the same cached range.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = httpcache.NewMemoryCacheTransport()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "passvault"
	}
	return &Client{
		http:      &http.Client{Transport: transport, Timeout: timeout},
		baseURL:   baseURL,
		userAgent: userAgent,
		log:       cfg.Logger,
	}
}

// IsBreached reports whether password appears in the corpus. Lookup errors
// are logged and reported as not breached so that a network outage never
// blocks storing a credential.
func (c *Client) IsBreached(ctx context.Context, password string) bool {
	count, err := c.Lookup(ctx, password)
	if err != nil {
		c.log.Warn().Err(err).Msg("breach check unavailable, assuming password is not breached")
		return false
	}
	return count > 0
}

// Lookup returns how many times password appears in the corpus.
func (c *Client) Lookup(ctx context.Context, password string) (int, error) {
	prefix, suffix := hashPassword(password)

	var body []byte
	op := func() error {
		b, err := c.fetchRange(ctx, prefix)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !retryableStatus(se.StatusCode) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return 0, errors.Wrapf(err, "range query for prefix %s", prefix)
	}
	return matchSuffix(body, suffix), nil
}

func (c *Client) fetchRange(ctx context.Context, prefix string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build range request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "range request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "cannot read range response")
	}
	return body, nil
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// hashPassword splits the upper-case hex SHA-1 digest of password into the
// five character prefix sent to the API and the 35 character suffix matched
// locally.
func hashPassword(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password)) //nolint:gosec
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return digest[:prefixLen], digest[prefixLen:]
}

// matchSuffix scans SUFFIX:COUNT lines for suffix. Padding rows carry a
// count of zero and malformed rows are skipped.
func matchSuffix(body []byte, suffix string) int {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		h, countStr, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(h, suffix) {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			continue
		}
		return count
	}
	return 0
}

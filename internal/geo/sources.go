package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// lookupTimeout bounds every outbound geo lookup.
const lookupTimeout = 3 * time.Second

// Source resolves a client address to an ISO country code. Any non-2xx
// response, malformed body, or empty country code is a failure.
type Source interface {
	Name() string
	Lookup(ctx context.Context, address string) (string, error)
}

// ErrEmptyCountryCode is returned when a source answers successfully
// but without a usable country code.
var ErrEmptyCountryCode = errors.New("geo source returned empty country code")

// IPAPISource queries the ip-api.com JSON endpoint.
type IPAPISource struct {
	baseURL    string
	httpClient *http.Client
}

// NewIPAPISource creates the primary detection source. baseURL can be
// overridden for tests; empty means the public endpoint.
func NewIPAPISource(baseURL string) *IPAPISource {
	if baseURL == "" {
		baseURL = "http://ip-api.com"
	}
	return &IPAPISource{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: lookupTimeout,
		},
	}
}

func (s *IPAPISource) Name() string { return "ip-api" }

func (s *IPAPISource) Lookup(ctx context.Context, address string) (string, error) {
	var payload struct {
		Status      string `json:"status"`
		CountryCode string `json:"countryCode"`
	}

	endpoint := fmt.Sprintf("%s/json/%s?fields=status,countryCode", s.baseURL, url.PathEscape(address))
	if err := getJSON(ctx, s.httpClient, s.Name(), endpoint, &payload); err != nil {
		return "", err
	}

	if payload.Status != "success" || payload.CountryCode == "" {
		return "", ErrEmptyCountryCode
	}
	return payload.CountryCode, nil
}

// IPWhoSource queries the ipwho.is JSON endpoint. Used as the
// secondary source in the fallback chain.
type IPWhoSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewIPWhoSource creates the secondary detection source.
func NewIPWhoSource(baseURL string) *IPWhoSource {
	if baseURL == "" {
		baseURL = "https://ipwho.is"
	}
	return &IPWhoSource{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: lookupTimeout,
		},
	}
}

func (s *IPWhoSource) Name() string { return "ipwho" }

func (s *IPWhoSource) Lookup(ctx context.Context, address string) (string, error) {
	var payload struct {
		Success     bool   `json:"success"`
		CountryCode string `json:"country_code"`
	}

	endpoint := fmt.Sprintf("%s/%s", s.baseURL, url.PathEscape(address))
	if err := getJSON(ctx, s.httpClient, s.Name(), endpoint, &payload); err != nil {
		return "", err
	}

	if !payload.Success || payload.CountryCode == "" {
		return "", ErrEmptyCountryCode
	}
	return payload.CountryCode, nil
}

// getJSON performs a bounded GET and decodes the JSON body. Timeouts
// are surfaced distinctly from generic transport failures.
func getJSON(ctx context.Context, client *http.Client, source, endpoint string, dest interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("geo source %s timed out: %w", source, err)
		}
		return fmt.Errorf("geo source %s request failed: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("geo source %s returned status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", source, err)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("malformed response from %s: %w", source, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

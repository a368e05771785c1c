// Package smsvendor talks to an sms-activate compatible handler_api.php
// endpoint and returns typed results. Response-string parsing stays here.
package smsvendor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/numrent/numrent-api/internal/pkg/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
)

type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	ua      string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		ua:      cfg.UserAgent,
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

// ListServices returns priced offers for a country, optionally narrowed to a carrier.
// A country with no offers yields ErrNoServices.
func (c *Client) ListServices(ctx context.Context, country, carrier string) ([]ServiceOffer, error) {
	params := url.Values{"action": {"getPrices"}, "country": {country}}
	if carrier != "" {
		params.Set("operator", carrier)
	}
	body, err := c.call(ctx, "getPrices", params)
	if err != nil {
		return nil, err
	}
	return parsePrices(body, country)
}

// RentNumber requests a number for service in country.
func (c *Client) RentNumber(ctx context.Context, service, country, carrier string) (Rental, error) {
	params := url.Values{"action": {"getNumber"}, "service": {service}, "country": {country}}
	if carrier != "" {
		params.Set("operator", carrier)
	}
	body, err := c.call(ctx, "getNumber", params)
	if err != nil {
		return Rental{}, err
	}
	rental, err := parseRent(string(body))
	if err != nil {
		return Rental{}, err
	}
	log.Info().Str("rental_id", rental.ID).Str("service", service).Str("country", country).Msg("vendor number rented")
	return rental, nil
}

func (c *Client) GetStatus(ctx context.Context, rentalID string) (Status, error) {
	body, err := c.call(ctx, "getStatus", url.Values{"action": {"getStatus"}, "id": {rentalID}})
	if err != nil {
		return Status{}, err
	}
	return parseStatus(string(body))
}

func (c *Client) SetStatus(ctx context.Context, rentalID string, action Action) error {
	body, err := c.call(ctx, "setStatus", url.Values{
		"action": {"setStatus"},
		"id":     {rentalID},
		"status": {strconv.Itoa(int(action))},
	})
	if err != nil {
		return err
	}
	return parseSetStatus(string(body), action)
}

func (c *Client) call(ctx context.Context, action string, params url.Values) ([]byte, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("smsvendor %s: client is nil", action)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("smsvendor %s: base url is empty", action)
	}

	start := time.Now()
	defer func() {
		metrics.VendorRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("smsvendor %s: build request: %w", action, err)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &APIError{Action: action, Code: "read_body", Kind: ErrTransient}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{Action: action, Code: fmt.Sprintf("http_%d", resp.StatusCode), Kind: ErrTransient}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Action: action, Code: fmt.Sprintf("http_%d: %s", resp.StatusCode, truncate(string(body))), Kind: ErrRejected}
	}
	return body, nil
}

func classifyRequestError(ctx context.Context, action string, err error) error {
	code := "request_error"
	switch {
	case isTimeoutError(ctx, err):
		code = "timeout"
	case isNetworkError(err):
		code = "network_error"
	}
	return fmt.Errorf("%w: %v", &APIError{Action: action, Code: code, Kind: ErrTransient}, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

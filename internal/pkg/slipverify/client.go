// Package slipverify submits bank-transfer slips to a SlipOK-style verifier.
package slipverify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	ErrDuplicate   = errors.New("slip already used")
	ErrNotFound    = errors.New("slip not found or unreadable")
	ErrInvalid     = errors.New("slip rejected by verifier")
	ErrUnavailable = errors.New("verifier unavailable")
	ErrEmptyInput  = errors.New("image or payload is required")
)

// Input carries either an image or a decoded QR payload.
type Input struct {
	Image    []byte
	Filename string
	Payload  string
}

// Result is the verifier's reading of a slip. Amount and Date are nil when
// the verifier could not extract them.
type Result struct {
	Ref      string
	Amount   *decimal.Decimal
	Currency string
	Date     *time.Time
	Raw      json.RawMessage
}

// RejectError keeps the verifier's own code and message.
type RejectError struct {
	Code    int
	Message string
	Raw     json.RawMessage
	Kind    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("slipverify: code=%d %s: %v", e.Code, e.Message, e.Kind)
}

func (e *RejectError) Unwrap() error { return e.Kind }

type Config struct {
	URL      string
	APIKey   string
	Timeout  time.Duration
	Currency string
}

type Client struct {
	url      string
	apiKey   string
	currency string
	http     *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "THB"
	}
	return &Client{
		url:      strings.TrimRight(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		currency: currency,
		http:     &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type slipData struct {
	Success        bool         `json:"success"`
	TransRef       string       `json:"transRef"`
	TransTimestamp string       `json:"transTimestamp"`
	TransDate      string       `json:"transDate"`
	Amount         *json.Number `json:"amount"`
}

// Verify submits the slip and returns what the verifier read from it.
func (c *Client) Verify(ctx context.Context, in Input) (Result, error) {
	if len(in.Image) == 0 && strings.TrimSpace(in.Payload) == "" {
		return Result{}, ErrEmptyInput
	}

	body, contentType, err := encodeForm(in)
	if err != nil {
		return Result{}, fmt.Errorf("slipverify: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Result{}, fmt.Errorf("slipverify: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{}, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, fmt.Errorf("%w: status=%d invalid json", ErrUnavailable, resp.StatusCode)
	}
	if !env.Success || resp.StatusCode >= 300 {
		return Result{}, &RejectError{Code: env.Code, Message: env.Message, Raw: raw, Kind: classifyCode(env.Code)}
	}

	return c.parseResult(env.Data, raw)
}

func (c *Client) parseResult(data json.RawMessage, raw []byte) (Result, error) {
	var d slipData
	if err := json.Unmarshal(data, &d); err != nil {
		return Result{}, fmt.Errorf("%w: invalid data", ErrUnavailable)
	}
	if d.TransRef == "" {
		return Result{}, &RejectError{Message: "missing transRef", Raw: raw, Kind: ErrNotFound}
	}

	res := Result{Ref: d.TransRef, Currency: c.currency, Raw: raw}
	if d.Amount != nil {
		if amt, err := decimal.NewFromString(d.Amount.String()); err == nil && amt.IsPositive() {
			res.Amount = &amt
		}
	}
	if t, ok := parseSlipTime(d.TransTimestamp, d.TransDate); ok {
		res.Date = &t
	}
	return res, nil
}

func parseSlipTime(timestamp, date string) (time.Time, bool) {
	if timestamp != "" {
		if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
			return t.UTC(), true
		}
	}
	if date != "" {
		if t, err := time.ParseInLocation("20060102", date, bangkok); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var bangkok = time.FixedZone("ICT", 7*60*60)

// classifyCode maps SlipOK error codes.
func classifyCode(code int) error {
	switch code {
	case 1012:
		return ErrDuplicate
	case 1006, 1007, 1008:
		return ErrNotFound
	default:
		return ErrInvalid
	}
}

func encodeForm(in Input) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if len(in.Image) > 0 {
		name := in.Filename
		if name == "" {
			name = "slip.jpg"
		}
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(in.Image); err != nil {
			return nil, "", err
		}
	} else if err := mw.WriteField("data", strings.TrimSpace(in.Payload)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("log", "true"); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func classifyRequestError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

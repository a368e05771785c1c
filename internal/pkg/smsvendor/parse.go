package smsvendor

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// classifyCode maps a bare vendor error code to a sentinel, or nil for
// bodies that are not a known error code.
func classifyCode(code string) error {
	switch {
	case code == "NO_NUMBERS":
		return ErrNoNumbers
	case code == "NO_BALANCE":
		return ErrNoBalance
	case code == "BAD_SERVICE":
		return ErrBadService
	case code == "ERROR_SQL", code == "SQL_ERROR", code == "SERVER_ERROR":
		return ErrTransient
	case code == "BAD_KEY", code == "BAD_ACTION", code == "BAD_STATUS", code == "BAD_COUNTRY",
		code == "NO_ACTIVATION", code == "EARLY_CANCEL_DENIED", code == "WRONG_ACTIVATION_ID",
		code == "WRONG_OPERATOR", code == "NO_KEY",
		strings.HasPrefix(code, "BANNED"):
		return ErrRejected
	}
	return nil
}

func parseRent(body string) (Rental, error) {
	body = strings.TrimSpace(body)
	if rest, ok := strings.CutPrefix(body, "ACCESS_NUMBER:"); ok {
		id, phone, ok := strings.Cut(rest, ":")
		if !ok || id == "" || phone == "" {
			return Rental{}, &APIError{Action: "getNumber", Code: body, Kind: ErrMalformed}
		}
		return Rental{ID: id, Phone: phone}, nil
	}
	return Rental{}, codeError("getNumber", body)
}

func parseStatus(body string) (Status, error) {
	body = strings.TrimSpace(body)
	switch {
	case body == "STATUS_WAIT_CODE", body == "STATUS_WAIT_RESEND", strings.HasPrefix(body, "STATUS_WAIT_RETRY"):
		return Status{State: StateWaiting}, nil
	case body == "STATUS_CANCEL":
		return Status{State: StateCancelled}, nil
	case strings.HasPrefix(body, "STATUS_OK:"):
		code := strings.TrimPrefix(body, "STATUS_OK:")
		if code == "" {
			return Status{}, &APIError{Action: "getStatus", Code: body, Kind: ErrMalformed}
		}
		return Status{State: StateCompleted, Code: code}, nil
	}
	return Status{}, codeError("getStatus", body)
}

func parseSetStatus(body string, action Action) error {
	body = strings.TrimSpace(body)
	switch body {
	case "ACCESS_RETRY_GET", "ACCESS_READY":
		if action == ActionRetry {
			return nil
		}
	case "ACCESS_CANCEL":
		if action == ActionCancel {
			return nil
		}
	case "ACCESS_ACTIVATION":
		if action == ActionFinish {
			return nil
		}
	}
	return codeError("setStatus", body)
}

type priceEntry struct {
	Cost  json.Number `json:"cost"`
	Count int         `json:"count"`
}

// parsePrices reads {"<country>": {"<service>": {"cost": 12.5, "count": 40}}}.
func parsePrices(body []byte, country string) ([]ServiceOffer, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, codeError("getPrices", trimmed)
	}

	var raw map[string]map[string]priceEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &APIError{Action: "getPrices", Code: "invalid_json", Kind: ErrMalformed}
	}

	services := raw[country]
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	offers := make([]ServiceOffer, 0, len(services))
	for code, e := range services {
		price, err := decimal.NewFromString(e.Cost.String())
		if err != nil {
			return nil, &APIError{Action: "getPrices", Code: "invalid_cost:" + code, Kind: ErrMalformed}
		}
		offers = append(offers, ServiceOffer{Service: code, Price: price, Available: e.Count})
	}
	return offers, nil
}

func codeError(action, body string) error {
	code := body
	if len(code) > 64 {
		code = code[:64]
	}
	if kind := classifyCode(body); kind != nil {
		return &APIError{Action: action, Code: code, Kind: kind}
	}
	return &APIError{Action: action, Code: code, Kind: ErrMalformed}
}

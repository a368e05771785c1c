package validator

import "testing"

type purchaseInput struct {
	Service string `json:"service" validate:"required,service_code"`
	Country string `json:"country" validate:"required,country_code"`
	Carrier string `json:"carrier" validate:"carrier_code"`
}

func TestValidateCustomTags(t *testing.T) {
	if errs := Validate(&purchaseInput{Service: "lf", Country: "52", Carrier: "ais"}); errs != nil {
		t.Fatalf("expected valid input, got %v", errs)
	}

	errs := Validate(&purchaseInput{Service: "LINE!", Country: "th", Carrier: "any carrier"})
	for _, field := range []string{"service", "country", "carrier"} {
		if _, ok := errs[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	errs := Validate(&purchaseInput{})
	if errs["service"] != "This field is required" {
		t.Fatalf("unexpected message: %v", errs)
	}
}

package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ToFloat Tests
// ----------------------------------------------------------------------------

func TestToFloat(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{name: "integer text", input: "123", want: 123, wantOK: true},
		{name: "negative decimal", input: "-45.5", want: -45.5, wantOK: true},
		{name: "leading decimal point", input: ".99", want: 0.99, wantOK: true},
		{name: "thousands separators", input: "1,234,567.5", want: 1234567.5, wantOK: true},
		{name: "inner whitespace", input: " 1 000 ", want: 1000, wantOK: true},
		{name: "percentage", input: "12.5%", want: 0.125, wantOK: true},
		{name: "percentage with separator", input: "1,000%", want: 10, wantOK: true},
		{name: "scientific notation", input: "1.5e3", want: 1500, wantOK: true},
		{name: "empty is zero", input: "", want: 0, wantOK: true},
		{name: "blank is zero", input: "   ", want: 0, wantOK: true},
		{name: "float passes through", input: 2.5, want: 2.5, wantOK: true},
		{name: "int64 passes through", input: int64(7), want: 7, wantOK: true},
		{name: "bytes", input: []byte("42"), want: 42, wantOK: true},

		{name: "nil is null", input: nil, wantOK: false},
		{name: "NaN is null", input: math.NaN(), wantOK: false},
		{name: "letters are null", input: "abc", wantOK: false},
		{name: "currency symbol is null", input: "$100", wantOK: false},
		{name: "infinity text is null", input: "inf", wantOK: false},
		{name: "underscore digits are null", input: "1_000", wantOK: false},
		{name: "unsupported type is null", input: struct{}{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToFloat(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ToFloat(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestToFloat_PercentageProperty(t *testing.T) {
	for _, p := range []string{"0", "1", "5", "12.5", "33.3", "100", "250", "0.01"} {
		got, ok := ToFloat(p + "%")
		if !ok {
			t.Fatalf("ToFloat(%q) returned null", p+"%")
		}
		want, _ := ToFloat(p)
		if got != want/100 {
			t.Errorf("ToFloat(%q) = %v, want %v", p+"%", got, want/100)
		}
	}
}

// ----------------------------------------------------------------------------
// ToInt / ToBool Tests
// ----------------------------------------------------------------------------

func TestToInt(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   int
		wantOK bool
	}{
		{name: "integer text", input: "3", want: 3, wantOK: true},
		{name: "separators", input: "1,000", want: 1000, wantOK: true},
		{name: "fraction truncates", input: "2.9", want: 2, wantOK: true},
		{name: "negative fraction truncates toward zero", input: "-2.9", want: -2, wantOK: true},
		{name: "percentage truncates", input: "250%", want: 2, wantOK: true},
		{name: "empty is zero", input: "", want: 0, wantOK: true},
		{name: "int passes through", input: 5, want: 5, wantOK: true},
		{name: "float truncates", input: 4.7, want: 4, wantOK: true},
		{name: "nil is null", input: nil, wantOK: false},
		{name: "text is null", input: "three", wantOK: false},
		{name: "beyond int range", input: "1e30", wantOK: false},
		{name: "negative beyond int range", input: -1e30, wantOK: false},
		{name: "large but representable", input: "1e15", want: 1_000_000_000_000_000, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ToInt(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ToInt(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestToBool(t *testing.T) {
	tests := []struct {
		input any
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{" True ", true},
		{true, true},
		{"false", false},
		{"yes", false},
		{"1", false},
		{"", false},
		{nil, false},
		{1, false},
	}

	for _, tt := range tests {
		if got := ToBool(tt.input); got != tt.want {
			t.Errorf("ToBool(%#v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// ToDate Tests
// ----------------------------------------------------------------------------

func TestToDate(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    time.Time
		wantNil bool
		wantErr bool
	}{
		{
			name:  "ISO date",
			input: "2024-01-15",
			want:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "US date",
			input: "01/15/2024",
			want:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "month name",
			input: "Jan 15, 2024",
			want:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "time zone is dropped",
			input: "2024-01-15T10:30:00+05:00",
			want:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "typed time is restamped",
			input: time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("X", 3600)),
			want:  time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		},
		{name: "nil", input: nil, wantNil: true},
		{name: "blank", input: "  ", wantNil: true},
		{name: "garbage", input: "not a date", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToDate("inception_date", tt.input)
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("ToDate() error = %v, want *ParseError", err)
				}
				if pe.Field != "inception_date" || pe.Value != "not a date" {
					t.Errorf("ParseError = %+v, want field and value", pe)
				}
				if !errors.Is(err, ErrUnrecognizedDate) {
					t.Errorf("ToDate() error should wrap ErrUnrecognizedDate")
				}
				return
			}
			if err != nil {
				t.Fatalf("ToDate() unexpected error: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("ToDate() = %v, want nil", got)
				}
				return
			}
			if got == nil || !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("ToDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CoerceMoney Tests
// ----------------------------------------------------------------------------

func TestCoerceMoney(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		input      any
		currencies []string
		want       MonetaryAmount
		wantOK     bool
	}{
		{
			name:       "term currency wins",
			field:      FieldPremium,
			input:      "1,000",
			currencies: []string{"EUR", "GBP", "USD"},
			want:       MonetaryAmount{Value: 1000, Currency: "EUR"},
			wantOK:     true,
		},
		{
			name:       "shared currency when term currency blank",
			field:      FieldPremium,
			input:      "10",
			currencies: []string{"", "GBP", "USD"},
			want:       MonetaryAmount{Value: 10, Currency: "GBP"},
			wantOK:     true,
		},
		{
			name:       "default currency last",
			field:      FieldAttachment,
			input:      "10",
			currencies: []string{"", " ", "USD"},
			want:       MonetaryAmount{Value: 10, Currency: "USD"},
			wantOK:     true,
		},
		{
			name:       "unlimited limit",
			field:      FieldLimit,
			input:      "Unlimited",
			currencies: []string{"USD"},
			want:       MonetaryAmount{Value: math.MaxFloat64, Currency: "USD"},
			wantOK:     true,
		},
		{
			name:       "unlimited aggregate limit",
			field:      FieldAggregateLimit,
			input:      " UNLIMITED ",
			currencies: []string{"USD"},
			want:       MonetaryAmount{Value: math.MaxFloat64, Currency: "USD"},
			wantOK:     true,
		},
		{
			name:       "unlimited outside limit fields is null",
			field:      FieldPremium,
			input:      "unlimited",
			currencies: []string{"USD"},
			wantOK:     false,
		},
		{
			name:       "non numeric is null",
			field:      FieldLimit,
			input:      "lots",
			currencies: []string{"USD"},
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceMoney(tt.field, tt.input, tt.currencies...)
			if ok != tt.wantOK {
				t.Fatalf("CoerceMoney() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("CoerceMoney() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

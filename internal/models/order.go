package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrMalformedMessage is returned when a payload cannot be turned into a valid Order.
var ErrMalformedMessage = errors.New("malformed message")

// Order is the unit of work moved through the queue. The JSON keys are the
// contract shared by the producer and the consumer.
type Order struct {
	OrderID   int     `json:"orderId" validate:"gte=1"`
	Product   string  `json:"producto" validate:"required"`
	Quantity  int     `json:"cantidad" validate:"gte=1,lte=5"`
	UnitPrice float64 `json:"precio" validate:"gte=50,lte=1050,cents"`
}

// Price bounds for generated and accepted orders.
const (
	MinQuantity  = 1
	MaxQuantity  = 5
	MinUnitPrice = 50.00
	MaxUnitPrice = 1050.00
)

// wireKeys are the only keys a payload may carry, matched case-sensitively.
var wireKeys = []string{"orderId", "producto", "cantidad", "precio"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report json names so errors read like the payload
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("cents", func(fl validator.FieldLevel) bool {
		scaled := fl.Field().Float() * 100
		return math.Abs(scaled-math.Round(scaled)) < 1e-6
	})

	return v
}

// Validate checks the field ranges of an order.
func (o Order) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("invalid order: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid order: %w", err)
	}
	return nil
}

// Total returns quantity * unit price rounded to cents.
func (o Order) Total() decimal.Decimal {
	price := decimal.NewFromFloat(o.UnitPrice).Round(2)
	return price.Mul(decimal.NewFromInt(int64(o.Quantity))).Round(2)
}

// TotalString renders Total with two fractional digits.
func (o Order) TotalString() string {
	return o.Total().StringFixed(2)
}

// Encode validates the order and returns its wire form.
func Encode(o Order) ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload. Keys must match wireKeys exactly, each
// exactly once. Any failure wraps ErrMalformedMessage.
func Decode(payload []byte) (Order, error) {
	if !utf8.Valid(payload) {
		return Order{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedMessage)
	}

	fields, err := readObject(payload)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var missing []string
	for _, k := range wireKeys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Order{}, fmt.Errorf("%w: missing %s", ErrMalformedMessage, strings.Join(missing, ", "))
	}

	var o Order
	targets := map[string]interface{}{
		"orderId":  &o.OrderID,
		"producto": &o.Product,
		"cantidad": &o.Quantity,
		"precio":   &o.UnitPrice,
	}
	for _, k := range wireKeys {
		raw := fields[k]
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return Order{}, fmt.Errorf("%w: %s is null", ErrMalformedMessage, k)
		}
		if err := json.Unmarshal(raw, targets[k]); err != nil {
			return Order{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, k, err)
		}
	}

	if err := o.Validate(); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return o, nil
}

// readObject walks a single JSON object and returns its raw values by key.
// encoding/json folds key case and lets later keys win, so keys are checked
// here before any value is decoded.
func readObject(payload []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("payload is not a JSON object")
	}

	fields := make(map[string]json.RawMessage, len(wireKeys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		if !isWireKey(key) {
			return nil, fmt.Errorf("unknown field %q", key)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", key)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields[key] = raw
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after order")
	}
	return fields, nil
}

func isWireKey(key string) bool {
	for _, k := range wireKeys {
		if k == key {
			return true
		}
	}
	return false
}

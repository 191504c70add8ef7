package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Validator is implemented by message unions that must carry exactly one variant.
type Validator interface {
	Validate() error
}

// Marshal encodes a message envelope.
func Marshal(v any) ([]byte, error) {
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return data, nil
}

// Unmarshal decodes an envelope into v. Unknown fields, trailing data and
// failed Validate checks are all reported as ErrDeserialization.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after message", ErrDeserialization)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrDeserialization, err)
		}
	}
	return nil
}

// ExactlyOne fails unless exactly one of the variant flags is set.
func ExactlyOne(set ...bool) error {
	n := 0
	for _, s := range set {
		if s {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("expected exactly one variant, got %d", n)
	}
	return nil
}

// MessageVariant returns the tag of a single-key JSON union in CamelCase
// ("get_max_fee_percentage" becomes "GetMaxFeePercentage"). It returns an
// empty string for anything else.
func MessageVariant(msg []byte) string {
	var union map[string]json.RawMessage
	if err := json.Unmarshal(msg, &union); err != nil || len(union) != 1 {
		return ""
	}
	caser := cases.Title(language.English)
	for tag := range union {
		var b strings.Builder
		for _, part := range strings.Split(tag, "_") {
			b.WriteString(caser.String(part))
		}
		return b.String()
	}
	return ""
}

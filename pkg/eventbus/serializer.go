package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common serialization errors
var (
	// ErrInvalidData is returned when the data cannot be serialized or deserialized
	ErrInvalidData = errors.New("invalid data for serialization")
)

// Serializer encodes envelope payloads.
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, target interface{}) error
	ContentType() string
}

// JSONSerializer implements Serializer with encoding/json.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize converts a Go object to JSON bytes.
func (s *JSONSerializer) Serialize(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: cannot serialize nil value", ErrInvalidData)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json serialization failed: %w", err)
	}
	return data, nil
}

// Deserialize converts JSON bytes back into target, which must be a pointer.
func (s *JSONSerializer) Deserialize(data []byte, target interface{}) error {
	if target == nil {
		return fmt.Errorf("%w: target cannot be nil", ErrInvalidData)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: cannot deserialize empty data", ErrInvalidData)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("json deserialization failed: %w", err)
	}
	return nil
}

// ContentType returns the MIME type for JSON serialization.
func (s *JSONSerializer) ContentType() string {
	return "application/json"
}

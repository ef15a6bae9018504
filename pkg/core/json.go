package core

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	// ErrEncodeNil is returned when JSONEncode is handed a nil value.
	ErrEncodeNil = errors.New("cannot encode nil value")
	// ErrDecodeEmpty is returned when JSONDecode is handed no bytes.
	ErrDecodeEmpty = errors.New("cannot decode empty data")
)

// JSONEncode encodes a value to JSON bytes using Sonic.
// Used for event payloads and the daemon's stats endpoint.
func JSONEncode(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, ErrEncodeNil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode failed: %w", err)
	}
	return data, nil
}

// JSONDecode decodes JSON bytes into v using Sonic.
func JSONDecode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return ErrDecodeEmpty
	}
	if v == nil {
		return fmt.Errorf("cannot decode into nil value")
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode failed: %w", err)
	}
	return nil
}

package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/utkarsh5026/pararun/internal/keys"
)

// ErrEncode is returned by Append when a result cannot be encoded as a record.
var ErrEncode = errors.New("cache: encode result")

// encodeRecord renders v as one compact JSON line (without the trailing newline)
// and derives the record's key from the encoded form.
func encodeRecord(v any, keyField string) ([]byte, keys.Key, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrEncode, err)
	}

	raw := bytes.TrimRight(buf.Bytes(), "\n")
	key, err := keys.FromJSON(raw, keyField)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return raw, key, nil
}

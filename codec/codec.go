// Package codec abstracts the serialization format a peer link is
// bound to. A Codec turns values and events into opaque payloads and
// back; transports carry the payloads without looking inside.
package codec

import (
	"errors"

	"github.com/goccy/go-json"
)

var ErrEmptyPayload = errors.New("codec: empty payload")

type Codec interface {
	// Encode serializes a value, failing on non-serializable input.
	Encode(v any) ([]byte, error)
	// Decode parses a payload into the given destination, failing on
	// malformed input or a type mismatch.
	Decode(data []byte, into any) error
}

// JSON is the default coding context.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Decode(data []byte, into any) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, into)
}

package replication

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/HermesGermany/galapagos-sub000/errors"
)

// Record is an entity stored in a collection. GetKey must return a stable,
// non-empty key unique within the collection.
type Record interface {
	GetKey() string
}

// Codec converts records to and from the JSON carried in the upsert
// envelope. Decode failures are reported and the record skipped.
type Codec[T any] interface {
	Encode(record T) (json.RawMessage, error)
	Decode(data json.RawMessage) (T, error)
}

// JSONCodec encodes records with encoding/json.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(record T) (json.RawMessage, error) {
	return json.Marshal(record)
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(data json.RawMessage) (T, error) {
	var record T
	err := json.Unmarshal(data, &record)
	return record, err
}

// envelope is the value of every record on a collection topic: either
// {"obj": <record>} or {"deleted": true}. Unknown fields are ignored.
type envelope struct {
	Obj     json.RawMessage `json:"obj,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

var tombstone = []byte(`{"deleted":true}`)

func encodeUpsert(obj json.RawMessage) ([]byte, error) {
	return json.Marshal(envelope{Obj: obj})
}

// decodeEnvelope returns the serialized record, or deleted=true for a
// tombstone. Every other shape is an invalid record.
func decodeEnvelope(value []byte) (obj json.RawMessage, deleted bool, err error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, false, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidRecord, err),
			"replication", "decodeEnvelope", "parse envelope")
	}
	if env.Deleted {
		return nil, true, nil
	}
	if len(env.Obj) == 0 || bytes.Equal(env.Obj, []byte("null")) {
		return nil, false, errors.WrapInvalid(fmt.Errorf("%w: neither obj nor deleted set", errors.ErrInvalidRecord),
			"replication", "decodeEnvelope", "parse envelope")
	}
	return env.Obj, false, nil
}

package replication

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HermesGermany/galapagos-sub000/errors"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		obj     string
		deleted bool
		wantErr bool
	}{
		{name: "upsert", value: `{"obj":{"id":"w1","name":"a"}}`, obj: `{"id":"w1","name":"a"}`},
		{name: "tombstone", value: `{"deleted":true}`, deleted: true},
		{name: "deleted wins over obj", value: `{"obj":{"id":"w1"},"deleted":true}`, deleted: true},
		{name: "unknown fields ignored", value: `{"obj":{"id":"w1"},"version":2}`, obj: `{"id":"w1"}`},
		{name: "deleted false without obj", value: `{"deleted":false}`, wantErr: true},
		{name: "null obj", value: `{"obj":null}`, wantErr: true},
		{name: "empty object", value: `{}`, wantErr: true},
		{name: "not json", value: `widget`, wantErr: true},
		{name: "array", value: `[1,2]`, wantErr: true},
		{name: "empty value", value: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, deleted, err := decodeEnvelope([]byte(tt.value))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				assert.ErrorIs(t, err, errors.ErrInvalidRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.deleted, deleted)
			if tt.obj != "" {
				assert.JSONEq(t, tt.obj, string(obj))
			}
		})
	}
}

func TestEncodeUpsert(t *testing.T) {
	obj, err := JSONCodec[widget]{}.Encode(widget{ID: "w1", Name: "first"})
	require.NoError(t, err)

	value, err := encodeUpsert(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"obj":{"id":"w1","name":"first"}}`, string(value))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(value, &raw))
	assert.NotContains(t, raw, "deleted")

	assert.JSONEq(t, `{"deleted":true}`, string(tombstone))
}

func TestJSONCodec_Decode(t *testing.T) {
	w, err := JSONCodec[widget]{}.Decode(json.RawMessage(`{"id":"w1","name":"first","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, widget{ID: "w1", Name: "first"}, w)

	_, err = JSONCodec[widget]{}.Decode(json.RawMessage(`"just a string"`))
	assert.Error(t, err)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsAuth(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"nats authorization", nats.ErrAuthorization, true},
		{"nats permission violation", fmt.Errorf("subscribe: %w", errors.New("nats: permissions violation")), true},
		{"revoked credentials", nats.ErrAuthRevoked, true},
		{"jetstream forbidden", &jetstream.APIError{Code: 403, Description: "forbidden"}, true},
		{"jetstream not found", &jetstream.APIError{Code: 404, Description: "stream not found"}, false},
		{"sentinel", ErrUnauthorized, true},
		{"message pattern", errors.New("nats: Permissions Violation for Subscription"), true},
		{"timeout", nats.ErrTimeout, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsAuth(test.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"nats timeout", nats.ErrTimeout, true},
		{"no responders", fmt.Errorf("describe: %w", nats.ErrNoResponders), true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"authorization", nats.ErrAuthorization, false},
		{"timeout in message", errors.New("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: errors.New("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: errors.New("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"auth wins over transient wrapping", WrapTransient(nats.ErrAuthorization, "Loop", "poll", "fetch"), ErrorFatal},
		{"plain timeout", nats.ErrTimeout, ErrorTransient},
		{"invalid record", fmt.Errorf("decode: %w", ErrInvalidRecord), ErrorInvalid},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"unknown defaults to transient", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Classify(test.err))
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	err := Wrap(base, "Store", "Save", "publish record")
	assert.EqualError(t, err, "Store.Save: publish record failed: boom")
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Wrap(nil, "Store", "Save", "publish record"))

	invalid := WrapInvalid(ErrTypeMismatch, "Container", "Register", "check type")
	var ce *ClassifiedError
	assert.True(t, errors.As(invalid, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Container", ce.Component)
	assert.Equal(t, "Register", ce.Operation)
	assert.ErrorIs(t, invalid, ErrTypeMismatch)
}

func TestWrapClassified(t *testing.T) {
	assert.True(t, IsFatal(WrapClassified(nats.ErrAuthorization, "Admin", "CreateTopic", "create stream")))
	assert.True(t, IsInvalid(WrapClassified(ErrInvalidData, "Store", "apply", "decode")))
	assert.True(t, IsTransient(WrapClassified(nats.ErrTimeout, "Admin", "DescribeTopic", "stream info")))
	assert.Nil(t, WrapClassified(nil, "a", "b", "c"))
}

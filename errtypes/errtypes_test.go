package errtypes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Config, "configuration error"},
		{Validation, "validation error"},
		{State, "state error"},
		{IO, "io error"},
		{Kind(42), "unknown error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("predict: %w", WithOp(ErrModelNotLoaded, "Predict"))

	assert.True(t, errors.Is(err, ErrModelNotLoaded))
	assert.False(t, errors.Is(err, ErrNoModelToSave))
	assert.True(t, Is(err, State))
	assert.False(t, Is(err, Validation))
	assert.Equal(t, "predict: Predict: model not loaded", err.Error())
}

func TestIsWalksNestedKinds(t *testing.T) {
	inner := Errorf(IO, "read", "short file")
	outer := New(Config, "load", inner)

	assert.True(t, Is(outer, Config))
	assert.True(t, Is(outer, IO))
	assert.Equal(t, Config, KindOf(outer))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

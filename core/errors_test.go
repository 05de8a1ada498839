package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "api_key", Err: ErrMissingCredential}
	assert.Equal(t, "config error [api_key]: missing credential", err.Error())
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.True(t, IsConfigError(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "config error: bad", (&ConfigError{Message: "bad"}).Error())
}

func TestTransportError(t *testing.T) {
	err := NewTransportError("openai", 503, errors.New("unavailable"))
	assert.Contains(t, err.Error(), "status 503")
	assert.True(t, IsTransportError(fmt.Errorf("x: %w", err)))
	assert.False(t, IsTransportError(errors.New("plain")))

	closed := NewTransportError("openai", 0, ErrClientClosed)
	assert.ErrorIs(t, closed, ErrClientClosed)
}

func TestRenderError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := &RenderError{Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "render error: broken pipe", err.Error())
}

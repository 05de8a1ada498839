// Package retry wraps a model.Model with retries and exponential backoff.
//
// A failed exchange is retried only while nothing has been forwarded to the
// caller: once a partial response reached the agent a retry would duplicate
// streamed text, so the error is returned as is.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentchat/core"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`       // Including the first attempt
	InitialDelay   time.Duration `json:"initial_delay" yaml:"initial_delay"`     // Delay before the first retry
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay"`             // Cap for a single delay
	BackoffFactor  float64       `json:"backoff_factor" yaml:"backoff_factor"`   // Multiplier per attempt
	Jitter         bool          `json:"jitter" yaml:"jitter"`                   // Spread delays by +-10%
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"` // 0 disables the per-attempt deadline
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Rate limiting (429), server errors
// (5xx) and network failures are retried. Client errors, a closed descriptor,
// configuration problems and context cancellation are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrClientClosed) || core.IsConfigError(err) {
		return false
	}

	var terr *core.TransportError
	if errors.As(err, &terr) && terr.StatusCode != 0 {
		return terr.StatusCode == http.StatusTooManyRequests || terr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Providers without typed errors only leave the message to go on.
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "rate limit", "unavailable"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Policy combines a Config with a Classifier.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a policy. A nil classifier defaults to ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay returns the wait before attempt (1-based). The first
// attempt never waits.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		spread := float64(delay) * 0.1
		delay += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return delay
}

// ShouldRetry applies the policy's classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

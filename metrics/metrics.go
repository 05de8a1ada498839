// Package metrics records model and tool activity as Prometheus metrics.
//
// A Recorder registers its collectors on a caller supplied
// prometheus.Registerer. Wrap a model with Recorder.Model to count requests,
// latency and tokens; pass the Recorder as an agent's Metrics option to count
// tool calls.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/tool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Recorder holds the agentchat collectors.
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	toolCallsTotal  *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is handy in tests.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentchat_model_requests_total",
				Help: "Total number of model requests by provider, model and status",
			},
			[]string{"provider", "model", "status", "error_type"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentchat_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentchat_model_tokens_total",
				Help: "Total number of tokens used by model requests",
			},
			[]string{"provider", "model", "type"},
		),
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentchat_tool_calls_total",
				Help: "Total number of tool executions by agent, tool and status",
			},
			[]string{"agent", "tool", "status", "error_type"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentchat_tool_call_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent", "tool"},
		),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{r.requestsTotal, r.requestDuration, r.tokensTotal, r.toolCallsTotal, r.toolDuration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// ObserveRequest records one completed model exchange.
func (r *Recorder) ObserveRequest(provider, model string, usage *core.Usage, d time.Duration, err error) {
	status, errType := statusSuccess, ""
	if err != nil {
		status, errType = statusError, modelErrorType(err)
	}
	r.requestsTotal.WithLabelValues(provider, model, status, errType).Inc()
	r.requestDuration.WithLabelValues(provider, model).Observe(d.Seconds())

	if err == nil && usage != nil {
		r.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
		r.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// ObserveToolCall records one tool execution. It satisfies flow.ToolObserver.
func (r *Recorder) ObserveToolCall(agent, toolName string, d time.Duration, err error) {
	status, errType := statusSuccess, ""
	if err != nil {
		status, errType = statusError, "unknown"
		var te *tool.ToolError
		if errors.As(err, &te) && te.Code != "" {
			errType = te.Code
		}
	}
	r.toolCallsTotal.WithLabelValues(agent, toolName, status, errType).Inc()
	r.toolDuration.WithLabelValues(agent, toolName).Observe(d.Seconds())
}

func modelErrorType(err error) string {
	switch {
	case errors.Is(err, core.ErrClientClosed):
		return "closed"
	case core.IsConfigError(err):
		return "config"
	}
	var terr *core.TransportError
	if errors.As(err, &terr) {
		if terr.StatusCode != 0 {
			return "http_" + strconv.Itoa(terr.StatusCode)
		}
		return "transport"
	}
	return "unknown"
}

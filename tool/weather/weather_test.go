package weather

import (
	"context"
	"testing"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/logging"
	"github.com/hupe1980/agentchat/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, tl tool.Tool, args map[string]any) (any, error) {
	t.Helper()
	return tl.Call(core.NewToolContext(context.Background(), "weather_agent", "", logging.NoOpLogger{}), args)
}

func TestGetWeather(t *testing.T) {
	res, err := call(t, NewGetWeather(), map[string]any{"city": "New York"})
	require.NoError(t, err)
	assert.Equal(t, "The current weather in New York is 28 °C and sunny.", res)
}

func TestAnalyzeWeather(t *testing.T) {
	res, err := call(t, NewAnalyzeWeather(), map[string]any{"weather_desc": "28 °C and sunny"})
	require.NoError(t, err)
	assert.Equal(t, "Analysis: '28 °C and sunny' suggests perfect weather for outdoor walks.", res)
}

func TestGetWeather_MissingCity(t *testing.T) {
	_, err := call(t, NewGetWeather(), map[string]any{})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidation, toolErr.Code)
}

func TestToolsAndLookup(t *testing.T) {
	tools := Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, GetWeatherName, tools[0].Name())
	assert.Equal(t, AnalyzeWeatherName, tools[1].Name())

	tl, ok := Lookup(AnalyzeWeatherName)
	require.True(t, ok)
	assert.Equal(t, AnalyzeWeatherName, tl.Name())

	_, ok = Lookup("get_time")
	assert.False(t, ok)
}

// Package weather provides the two mock tools used by the demo presets: a
// fake current-weather lookup and a canned analysis of a weather description.
package weather

import (
	"fmt"

	"github.com/hupe1980/agentchat/core"
	"github.com/hupe1980/agentchat/tool"
)

// Tool names as advertised to the model.
const (
	GetWeatherName     = "get_weather"
	AnalyzeWeatherName = "analyze_weather"
)

type getWeatherArgs struct {
	City string `json:"city"`
}

type analyzeWeatherArgs struct {
	WeatherDesc string `json:"weather_desc"`
}

// NewGetWeather returns the get_weather tool. It always reports 28 °C and sunny.
func NewGetWeather() tool.Tool {
	return tool.NewTypedTool(
		GetWeatherName,
		"Get the weather for a given city.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "Name of the city",
				},
			},
			"required": []string{"city"},
		},
		func(_ *core.ToolContext, args getWeatherArgs) (string, error) {
			return GetWeather(args.City), nil
		},
	)
}

// NewAnalyzeWeather returns the analyze_weather tool.
func NewAnalyzeWeather() tool.Tool {
	return tool.NewTypedTool(
		AnalyzeWeatherName,
		"Analyze a weather description and recommend outdoor activities.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"weather_desc": map[string]any{
					"type":        "string",
					"description": "Free-form weather description, e.g. the output of get_weather",
				},
			},
			"required": []string{"weather_desc"},
		},
		func(_ *core.ToolContext, args analyzeWeatherArgs) (string, error) {
			return AnalyzeWeather(args.WeatherDesc), nil
		},
	)
}

// GetWeather is the mock lookup behind the get_weather tool.
func GetWeather(city string) string {
	return fmt.Sprintf("The current weather in %s is 28 °C and sunny.", city)
}

// AnalyzeWeather is the canned analysis behind the analyze_weather tool.
func AnalyzeWeather(desc string) string {
	return fmt.Sprintf("Analysis: '%s' suggests perfect weather for outdoor walks.", desc)
}

// Tools returns both weather tools.
func Tools() []tool.Tool {
	return []tool.Tool{NewGetWeather(), NewAnalyzeWeather()}
}

// Lookup returns the weather tool registered under name.
func Lookup(name string) (tool.Tool, bool) {
	switch name {
	case GetWeatherName:
		return NewGetWeather(), true
	case AnalyzeWeatherName:
		return NewAnalyzeWeather(), true
	default:
		return nil, false
	}
}

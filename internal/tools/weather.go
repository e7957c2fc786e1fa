package tools

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/lexiqai/weather-gateway/internal/modelstream"
)

const (
	CurrentWeatherTool = "get_current_weather"
	ForecastTool       = "get_weather_forecast"

	MinForecastDays     = 1
	MaxForecastDays     = 5
	DefaultForecastDays = 5
)

// CurrentConditions is the normalized current-weather payload
type CurrentConditions struct {
	City          string  `json:"city"`
	Country       string  `json:"country"`
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feels_like"`
	Description   string  `json:"description"`
	Humidity      int     `json:"humidity"`
	Pressure      int     `json:"pressure"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection int     `json:"wind_direction"`
	VisibilityKm  float64 `json:"visibility"`
	Units         string  `json:"units"`
	Icon          string  `json:"icon"`
	Timestamp     int64   `json:"timestamp"`
}

// DailyForecast aggregates one day of 3-hourly entries
type DailyForecast struct {
	Date        string  `json:"date"`
	HighTemp    float64 `json:"high_temp"`
	LowTemp     float64 `json:"low_temp"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
}

// Forecast is the normalized multi-day payload
type Forecast struct {
	City          string          `json:"city"`
	Country       string          `json:"country"`
	Days          []DailyForecast `json:"forecast"`
	DaysRequested int             `json:"days_requested"`
	DaysReturned  int             `json:"days_returned"`
}

// WeatherProvider is the external weather capability. units is "metric" or "imperial".
type WeatherProvider interface {
	CurrentWeather(ctx context.Context, city, units string) (*CurrentConditions, error)
	Forecast(ctx context.Context, city string, days int) (*Forecast, error)
}

// Definitions returns the tool specs advertised to the model
func Definitions() []modelstream.ToolSpec {
	return []modelstream.ToolSpec{
		{
			Name:        CurrentWeatherTool,
			Description: "Get current weather information for a specific city",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{
						"type":        "string",
						"description": "The city name to get weather for (e.g., 'London', 'New York')",
					},
					"units": map[string]any{
						"type":        "string",
						"enum":        []string{"celsius", "fahrenheit"},
						"description": "Temperature units to use",
						"default":     "celsius",
					},
				},
				"required": []string{"city"},
			},
		},
		{
			Name:        ForecastTool,
			Description: "Get weather forecast for a specific city",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{
						"type":        "string",
						"description": "The city name to get forecast for",
					},
					"days": map[string]any{
						"type":        "integer",
						"description": "Number of days for forecast (1-5)",
						"default":     DefaultForecastDays,
						"minimum":     MinForecastDays,
						"maximum":     MaxForecastDays,
					},
				},
				"required": []string{"city"},
			},
		},
	}
}

func currentWeatherHandler(p WeatherProvider) handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		city, err := cityArg(CurrentWeatherTool, args)
		if err != nil {
			return nil, err
		}
		units, err := unitsArg(args)
		if err != nil {
			return nil, err
		}
		return p.CurrentWeather(ctx, city, units)
	}
}

func forecastHandler(p WeatherProvider) handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		city, err := cityArg(ForecastTool, args)
		if err != nil {
			return nil, err
		}
		days, err := daysArg(args)
		if err != nil {
			return nil, err
		}
		return p.Forecast(ctx, city, days)
	}
}

func cityArg(tool string, args map[string]any) (string, error) {
	raw, ok := args["city"]
	if !ok {
		return "", &InvalidArgumentError{Tool: tool, Argument: "city", Reason: "is required"}
	}
	city, ok := raw.(string)
	if !ok {
		return "", &InvalidArgumentError{Tool: tool, Argument: "city", Reason: "must be a string"}
	}
	city = strings.TrimSpace(city)
	if city == "" {
		return "", &InvalidArgumentError{Tool: tool, Argument: "city", Reason: "must not be empty"}
	}
	return city, nil
}

// unitsArg maps the advertised celsius/fahrenheit names onto provider units
func unitsArg(args map[string]any) (string, error) {
	raw, ok := args["units"]
	if !ok || raw == nil {
		return "metric", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &InvalidArgumentError{Tool: CurrentWeatherTool, Argument: "units", Reason: "must be a string"}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "celsius", "metric":
		return "metric", nil
	case "fahrenheit", "imperial":
		return "imperial", nil
	}
	return "", &InvalidArgumentError{Tool: CurrentWeatherTool, Argument: "units", Reason: "must be celsius or fahrenheit"}
}

func daysArg(args map[string]any) (int, error) {
	raw, ok := args["days"]
	if !ok || raw == nil {
		return DefaultForecastDays, nil
	}

	var days float64
	switch v := raw.(type) {
	case float64:
		days = v
	case int:
		days = float64(v)
	case int64:
		days = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &InvalidArgumentError{Tool: ForecastTool, Argument: "days", Reason: "must be an integer"}
		}
		days = f
	default:
		return 0, &InvalidArgumentError{Tool: ForecastTool, Argument: "days", Reason: "must be an integer"}
	}

	if math.Trunc(days) != days {
		return 0, &InvalidArgumentError{Tool: ForecastTool, Argument: "days", Reason: "must be an integer"}
	}
	if days < MinForecastDays || days > MaxForecastDays {
		return 0, &InvalidArgumentError{Tool: ForecastTool, Argument: "days", Reason: "must be between 1 and 5"}
	}
	return int(days), nil
}

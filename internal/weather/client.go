// Package weather is the OpenWeatherMap implementation of tools.WeatherProvider.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/resilience"
	"github.com/lexiqai/weather-gateway/internal/tools"
)

const (
	DefaultBaseURL = "http://api.openweathermap.org/data/2.5"
	serviceName    = "weather"

	// forecast entries are 3-hourly
	entriesPerDay = 8
)

// StatusError is a non-2xx response from the weather API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weather api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Config configures the client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

// Client talks to OpenWeatherMap with retry and circuit breaking
type Client struct {
	http    *resty.Client
	apiKey  string
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

var _ tools.WeatherProvider = (*Client)(nil)

// NewClient creates a weather client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(serviceName, 5, 30*time.Second)
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		apiKey:  cfg.APIKey,
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
		logger:  observability.GetLogger().With().Str("component", "weather").Logger(),
	}
}

type currentResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Visibility float64 `json:"visibility"`
	Dt         int64   `json:"dt"`
}

type forecastResponse struct {
	City struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
	List []struct {
		DtTxt string `json:"dt_txt"`
		Main  struct {
			TempMax  float64 `json:"temp_max"`
			TempMin  float64 `json:"temp_min"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	} `json:"list"`
}

// CurrentWeather fetches current conditions. units is "metric" or "imperial".
func (c *Client) CurrentWeather(ctx context.Context, city, units string) (*tools.CurrentConditions, error) {
	var body currentResponse
	err := c.get(ctx, "/weather", map[string]string{"q": city, "units": units}, &body)
	if err != nil {
		return nil, err
	}

	out := &tools.CurrentConditions{
		City:          body.Name,
		Country:       body.Sys.Country,
		Temperature:   round1(body.Main.Temp),
		FeelsLike:     round1(body.Main.FeelsLike),
		Humidity:      body.Main.Humidity,
		Pressure:      body.Main.Pressure,
		WindSpeed:     body.Wind.Speed,
		WindDirection: body.Wind.Deg,
		VisibilityKm:  body.Visibility / 1000,
		Units:         units,
		Timestamp:     body.Dt,
	}
	if len(body.Weather) > 0 {
		out.Description = body.Weather[0].Description
		out.Icon = body.Weather[0].Icon
	}
	return out, nil
}

// Forecast fetches 3-hourly entries and folds them into daily highs and lows
func (c *Client) Forecast(ctx context.Context, city string, days int) (*tools.Forecast, error) {
	var body forecastResponse
	params := map[string]string{
		"q":     city,
		"units": "metric",
		"cnt":   strconv.Itoa(days * entriesPerDay),
	}
	if err := c.get(ctx, "/forecast", params, &body); err != nil {
		return nil, err
	}

	var daily []tools.DailyForecast
	for _, item := range body.List {
		date, _, _ := strings.Cut(item.DtTxt, " ")
		if n := len(daily); n > 0 && daily[n-1].Date == date {
			day := &daily[n-1]
			day.HighTemp = math.Max(day.HighTemp, item.Main.TempMax)
			day.LowTemp = math.Min(day.LowTemp, item.Main.TempMin)
			continue
		}

		day := tools.DailyForecast{
			Date:      date,
			HighTemp:  item.Main.TempMax,
			LowTemp:   item.Main.TempMin,
			Humidity:  item.Main.Humidity,
			WindSpeed: item.Wind.Speed,
		}
		if len(item.Weather) > 0 {
			day.Description = item.Weather[0].Description
			day.Icon = item.Weather[0].Icon
		}
		daily = append(daily, day)
	}

	if len(daily) > days {
		daily = daily[:days]
	}
	for i := range daily {
		daily[i].HighTemp = round1(daily[i].HighTemp)
		daily[i].LowTemp = round1(daily[i].LowTemp)
	}

	return &tools.Forecast{
		City:          body.City.Name,
		Country:       body.City.Country,
		Days:          daily,
		DaysRequested: days,
		DaysReturned:  len(daily),
	}, nil
}

// HealthCheck reports unhealthy while the circuit is open
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if state := c.breaker.GetState(); state == resilience.StateOpen {
		return false, fmt.Errorf("weather circuit is %s", state)
	}
	return true, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, result any) error {
	var notFound error

	err := c.breaker.Call(func() error {
		err := resilience.RetryContext(ctx, func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetQueryParams(params).
				SetQueryParam("appid", c.apiKey).
				SetResult(result).
				Get(path)
			if err != nil {
				return err
			}

			switch code := resp.StatusCode(); {
			case code == http.StatusOK:
				return nil
			case code == http.StatusNotFound:
				return fmt.Errorf("%w: %s", tools.ErrLocationNotFound, params["q"])
			case code == http.StatusTooManyRequests || code >= 500:
				return resilience.NewRetryableError(&StatusError{StatusCode: code, Body: resp.String()})
			default:
				return &StatusError{StatusCode: code, Body: resp.String()}
			}
		}, c.retry, resilience.IsRetryableNetworkError)

		// an unknown city says nothing about upstream health
		if errors.Is(err, tools.ErrLocationNotFound) {
			notFound = err
			return nil
		}
		return err
	})

	observability.UpdateCircuitBreakerState(serviceName, int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(serviceName)
		c.logger.Warn().
			Err(err).
			Str("path", path).
			Str("city", params["q"]).
			Msg("Weather API request failed")
		return err
	}
	return notFound
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Package weather adapts the upstream forecast provider into normalized
// per-location forecast windows. Provider payloads arrive in metric units and
// are converted once at the boundary; everything downstream sees °F, inches,
// and percentage probabilities.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"miraqua/internal/config"
	"miraqua/internal/external"
	"miraqua/internal/types"
)

// Provider fetches a normalized forecast window for a location.
type Provider interface {
	Forecast(ctx context.Context, loc types.Location) (*types.ForecastWindow, error)
}

// HTTPProvider calls the upstream forecast API over HTTP through the shared
// resilient client.
type HTTPProvider struct {
	base           *external.BaseClient
	providerURL    string
	apiKey         types.SecretString
	minWindowHours int
	logger         *slog.Logger
}

// NewHTTPProvider builds the provider client from configuration.
func NewHTTPProvider(cfg config.WeatherConfig, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	base := external.NewBaseClient(
		httpClient,
		"weather-provider",
		external.DefaultRetryPolicy(),
		"miraqua-weather/1.0",
		types.ErrCodeUpstreamForecast,
	)
	return &HTTPProvider{
		base:           base,
		providerURL:    cfg.ProviderURL,
		apiKey:         cfg.APIKey,
		minWindowHours: cfg.MinWindowHours,
		logger:         logger,
	}
}

// providerResponse is the upstream wire format: metric units, hourly samples.
type providerResponse struct {
	Hourly []providerHour `json:"hourly"`
}

type providerHour struct {
	Time        time.Time `json:"time"`
	PrecipProb  float64   `json:"precip_probability"` // fraction 0..1
	PrecipMM    float64   `json:"precip_mm"`
	TempCelsius float64   `json:"temp_c"`
}

// Forecast fetches and normalizes the hourly forecast for a location.
func (p *HTTPProvider) Forecast(ctx context.Context, loc types.Location) (*types.ForecastWindow, error) {
	u, err := url.Parse(p.providerURL)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast,
			"invalid forecast provider url", err)
	}
	q := u.Query()
	q.Set("lat", fmt.Sprintf("%.4f", loc.Lat))
	q.Set("lon", fmt.Sprintf("%.4f", loc.Lon))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast,
			"building forecast request", err)
	}
	if key := p.apiKey.Reveal(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamForecast,
			fmt.Sprintf("forecast provider returned %d", resp.StatusCode), nil,
			map[string]any{"body": string(body)})
	}

	var payload providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast,
			"decoding forecast payload", err)
	}

	window := normalize(loc, payload)
	if len(window.Hourly) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamForecast,
			"forecast payload contained no hourly samples", nil)
	}

	if hours := windowHours(window); hours < p.minWindowHours {
		// Short windows still allow rain-skip over the decision horizon, so
		// accept and let the engine decide with what it has.
		p.logger.WarnContext(ctx, "forecast window shorter than required",
			slog.String("location_key", window.LocationKey),
			slog.Int("hours", hours),
			slog.Int("required_hours", p.minWindowHours),
		)
	}

	return window, nil
}

// normalize converts the metric upstream payload into internal units and
// sorts samples chronologically.
func normalize(loc types.Location, payload providerResponse) *types.ForecastWindow {
	hourly := make([]types.ForecastPoint, 0, len(payload.Hourly))
	for _, h := range payload.Hourly {
		hourly = append(hourly, types.ForecastPoint{
			Timestamp:       h.Time.UTC(),
			PrecipProbPct:   clampPct(h.PrecipProb * 100),
			PrecipAmountIn:  h.PrecipMM / 25.4,
			TemperatureDegF: h.TempCelsius*9/5 + 32,
		})
	}
	sort.Slice(hourly, func(i, j int) bool {
		return hourly[i].Timestamp.Before(hourly[j].Timestamp)
	})
	return &types.ForecastWindow{
		LocationKey: loc.Key(),
		FetchedAt:   time.Now().UTC(),
		Hourly:      hourly,
	}
}

func windowHours(w *types.ForecastWindow) int {
	if len(w.Hourly) < 2 {
		return 0
	}
	span := w.Hourly[len(w.Hourly)-1].Timestamp.Sub(w.Hourly[0].Timestamp)
	return int(span.Hours())
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

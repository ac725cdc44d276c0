// Package geocode implements the reverse-geocoder interface (spec §6):
// best-effort human-readable location resolution with a deterministic
// coordinate-based fallback when the provider is unavailable or
// unconfigured. No core logic depends on any specific provider.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlews/openlews/internal/apperr"
	"github.com/openlews/openlews/internal/model"
	"github.com/openlews/openlews/internal/observability"
)

// Interface is the reverse-geocoder's public contract.
type Interface interface {
	Reverse(ctx context.Context, lat, lon float64) (model.ResolvedLocation, error)
}

// mapURLTemplate is the deterministic fallback link synthesised when no
// provider resolves a label (spec §6).
const mapURLTemplate = "https://www.openstreetmap.org/?mlat=%f&mlon=%f#map=16/%f/%f"

// Fallback builds the deterministic {label, url} the core falls back to
// on any resolve failure.
func Fallback(lat, lon float64) model.ResolvedLocation {
	return model.ResolvedLocation{
		Label: fmt.Sprintf("%.5f,%.5f", lat, lon),
		URL:   fmt.Sprintf(mapURLTemplate, lat, lon, lat, lon),
	}
}

type httpProvider struct {
	cli     *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewHTTPProvider wraps a Nominatim-compatible reverse-geocode endpoint.
// baseURL should point at the provider's /reverse path root.
func NewHTTPProvider(cli *http.Client, baseURL string, log zerolog.Logger) Interface {
	return &httpProvider{cli: cli, baseURL: baseURL, log: log}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Village  string `json:"village"`
		Town     string `json:"town"`
		City     string `json:"city"`
		District string `json:"state_district"`
	} `json:"address"`
}

func (p *httpProvider) Reverse(ctx context.Context, lat, lon float64) (model.ResolvedLocation, error) {
	start := time.Now()
	u := fmt.Sprintf("%s?lat=%s&lon=%s&format=json", p.baseURL, url.QueryEscape(fmt.Sprintf("%f", lat)), url.QueryEscape(fmt.Sprintf("%f", lon)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		observability.ObserveStoreOp("geocode", "reverse", err, time.Since(start))
		return Fallback(lat, lon), fmt.Errorf("%w: build request: %v", apperr.LocationResolveError, err)
	}

	resp, err := p.cli.Do(req)
	if err != nil {
		observability.ObserveStoreOp("geocode", "reverse", err, time.Since(start))
		p.log.Warn().Err(err).Msg("geocode: reverse lookup failed, using fallback")
		return Fallback(lat, lon), fmt.Errorf("%w: %v", apperr.LocationResolveError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.ObserveStoreOp("geocode", "reverse", fmt.Errorf("status %d", resp.StatusCode), time.Since(start))
		return Fallback(lat, lon), fmt.Errorf("%w: status %d", apperr.LocationResolveError, resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		observability.ObserveStoreOp("geocode", "reverse", err, time.Since(start))
		return Fallback(lat, lon), fmt.Errorf("%w: decode response: %v", apperr.LocationResolveError, err)
	}
	observability.ObserveStoreOp("geocode", "reverse", nil, time.Since(start))

	label := body.DisplayName
	if label == "" {
		label = firstNonEmpty(body.Address.Village, body.Address.Town, body.Address.City, body.Address.District)
	}
	if label == "" {
		return Fallback(lat, lon), nil
	}

	return model.ResolvedLocation{
		Label:   label,
		Address: body.DisplayName,
		URL:     fmt.Sprintf(mapURLTemplate, lat, lon, lat, lon),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

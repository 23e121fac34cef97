package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bobby-s-dev/weather-dashboard/internal/models"
	"github.com/bobby-s-dev/weather-dashboard/pkg/client"
)

// StaticLocator reports a fixed position, or Unavailable when none is set.
type StaticLocator struct {
	Coordinates *models.Coordinates
}

func (l StaticLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, err
	}
	if l.Coordinates == nil {
		return models.Coordinates{}, &LocationError{Kind: Unavailable, Message: "no position configured"}
	}
	return *l.Coordinates, nil
}

const DefaultIPLocatorURL = "http://ip-api.com/json/?fields=status,message,lat,lon"

// IPLocator estimates the position from the public IP address.
type IPLocator struct {
	client *client.BaseClient
	url    string
}

type ipLocation struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func NewIPLocator(base *client.BaseClient, url string) *IPLocator {
	if url == "" {
		url = DefaultIPLocatorURL
	}
	return &IPLocator{client: base, url: url}
}

func (l *IPLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	data, err := l.client.GetWithRetry(ctx, l.url)
	if err != nil {
		var re *client.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusForbidden {
			return models.Coordinates{}, &LocationError{Kind: PermissionDenied, Message: "location lookup refused"}
		}
		return models.Coordinates{}, err
	}

	var resp ipLocation
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.Coordinates{}, fmt.Errorf("decode location: %w", err)
	}
	if resp.Status != "success" {
		return models.Coordinates{}, &LocationError{Kind: Unavailable, Message: resp.Message}
	}
	return models.Coordinates{Lat: resp.Lat, Lon: resp.Lon}, nil
}

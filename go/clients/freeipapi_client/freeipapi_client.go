package freeipapi_client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/tandem/go/clients"
)

type FreeIPAPIClient struct {
	*clients.BaseClient
}

func NewFreeIPAPIClient(baseURL string) *FreeIPAPIClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &FreeIPAPIClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

type lookupResponse struct {
	Latitude  clients.Number `json:"latitude"`
	Longitude clients.Number `json:"longitude"`
	CityName  string         `json:"cityName"`
}

func (c *FreeIPAPIClient) Source() clients.ExternalSource {
	return clients.ExternalSourceFreeIPAPI
}

func (c *FreeIPAPIClient) Locate(ctx context.Context) (clients.GeoLocation, error) {
	body, err := c.Get(ctx, JSONEndpoint)
	if err != nil {
		return clients.GeoLocation{}, fmt.Errorf("freeipapi: %w", err)
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return clients.GeoLocation{}, fmt.Errorf("failed to parse freeipapi response: %w", err)
	}

	return clients.ParseCoordinate(c.Source(), resp.Latitude, resp.Longitude, resp.CityName)
}

package ipapi_client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/tandem/go/clients"
)

type IPAPIClient struct {
	*clients.BaseClient
}

func NewIPAPIClient(baseURL string) *IPAPIClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &IPAPIClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

type lookupResponse struct {
	Latitude  clients.Number `json:"latitude"`
	Longitude clients.Number `json:"longitude"`
	City      string         `json:"city"`
	Error     bool           `json:"error"`
	Reason    string         `json:"reason"`
}

func (c *IPAPIClient) Source() clients.ExternalSource {
	return clients.ExternalSourceIPAPI
}

func (c *IPAPIClient) Locate(ctx context.Context) (clients.GeoLocation, error) {
	body, err := c.Get(ctx, JSONEndpoint)
	if err != nil {
		return clients.GeoLocation{}, fmt.Errorf("ipapi: %w", err)
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return clients.GeoLocation{}, fmt.Errorf("failed to parse ipapi response: %w", err)
	}
	if resp.Error {
		return clients.GeoLocation{}, fmt.Errorf("ipapi: %w: %s", clients.ErrProviderFailed, resp.Reason)
	}

	return clients.ParseCoordinate(c.Source(), resp.Latitude, resp.Longitude, resp.City)
}

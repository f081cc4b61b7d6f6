package ipwhois_client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/tandem/go/clients"
)

type IPWhoisClient struct {
	*clients.BaseClient
}

func NewIPWhoisClient(baseURL string) *IPWhoisClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &IPWhoisClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

// ipwho.is answers 200 even on failure and sets success=false.
type lookupResponse struct {
	Success   *bool          `json:"success"`
	Message   string         `json:"message"`
	Latitude  clients.Number `json:"latitude"`
	Longitude clients.Number `json:"longitude"`
	City      string         `json:"city"`
}

func (c *IPWhoisClient) Source() clients.ExternalSource {
	return clients.ExternalSourceIPWhois
}

func (c *IPWhoisClient) Locate(ctx context.Context) (clients.GeoLocation, error) {
	body, err := c.Get(ctx, LookupEndpoint)
	if err != nil {
		return clients.GeoLocation{}, fmt.Errorf("ipwhois: %w", err)
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return clients.GeoLocation{}, fmt.Errorf("failed to parse ipwhois response: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return clients.GeoLocation{}, fmt.Errorf("ipwhois: %w: %s", clients.ErrProviderFailed, resp.Message)
	}

	return clients.ParseCoordinate(c.Source(), resp.Latitude, resp.Longitude, resp.City)
}

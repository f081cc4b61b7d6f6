package firstparty_client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/tandem/go/clients"
)

type FirstPartyClient struct {
	*clients.BaseClient
}

// NewFirstPartyClient targets the app's own origin, e.g. https://tandem.example.
func NewFirstPartyClient(baseURL string) *FirstPartyClient {
	return &FirstPartyClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

// geoResponse may omit any field when the edge has no data for the request.
type geoResponse struct {
	Lat  clients.Number `json:"lat"`
	Lng  clients.Number `json:"lng"`
	City string         `json:"city"`
}

func (c *FirstPartyClient) Source() clients.ExternalSource {
	return clients.ExternalSourceFirstParty
}

func (c *FirstPartyClient) Locate(ctx context.Context) (clients.GeoLocation, error) {
	body, err := c.Get(ctx, GeoEndpoint)
	if err != nil {
		return clients.GeoLocation{}, fmt.Errorf("first party geo: %w", err)
	}

	var resp geoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return clients.GeoLocation{}, fmt.Errorf("failed to parse first party geo response: %w", err)
	}

	return clients.ParseCoordinate(c.Source(), resp.Lat, resp.Lng, resp.City)
}

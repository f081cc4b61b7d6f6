package firstparty_client

const (
	// GeoEndpoint is served by the same origin as the app.
	GeoEndpoint = "/api/geo"
)

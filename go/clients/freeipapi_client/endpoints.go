package freeipapi_client

const (
	BaseURL = "https://freeipapi.com"

	JSONEndpoint = "/api/json"
)

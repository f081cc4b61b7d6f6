package ipwhois_client

const (
	BaseURL = "https://ipwho.is"

	LookupEndpoint = "/"
)

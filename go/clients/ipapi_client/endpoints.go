package ipapi_client

const (
	BaseURL = "https://ipapi.co"

	JSONEndpoint = "/json/"
)

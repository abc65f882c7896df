package catalog_client

const (
	// API Endpoints
	ItemsEndpoint    = "/api/pbis"
	SimilarEndpoint  = "/api/pbis/%s/similar"
	ByPointsEndpoint = "/api/pbis/by-points"

	// Headers
	APIKeyHeader = "Authorization"
)

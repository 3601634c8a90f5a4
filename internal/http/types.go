package http

// GenerateRequest is the request body for POST /generate.
type GenerateRequest struct {
	Grade int    `json:"grade"`
	Topic string `json:"topic"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ServiceInfo is the response body for GET /.
type ServiceInfo struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Provider    string            `json:"provider,omitempty"`
	Endpoints   map[string]string `json:"endpoints"`
}

// endpoints documents the public routes for GET /.
var endpoints = map[string]string{
	"POST /generate":    "Run the full pipeline and return the RunArtifact",
	"GET /history":      "Stored artifacts, most recent first (user_id, limit)",
	"GET /artifact/:id": "One artifact by run id",
	"GET /similar":      "Approved artifacts on similar topics (topic, limit)",
	"GET /stats":        "Aggregate run statistics",
	"GET /health":       "Health check",
	"GET /metrics":      "Prometheus metrics",
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"
)

// setupDocsRoutes serves the OpenAPI spec and a minimal Swagger UI.
func (s *Server) setupDocsRoutes(r *mux.Router) {
	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPISpec).Methods("GET")
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPISpec).Methods("GET")
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods("GET")
	r.HandleFunc("/docs/", s.handleSwaggerUI).Methods("GET")
}

// handleOpenAPISpec serves the OpenAPI specification as YAML or JSON.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	specPath := s.config.SpecPath
	if specPath == "" {
		specPath = "docs/openapi.yaml"
	}

	if strings.HasSuffix(r.URL.Path, ".json") {
		yamlData, err := os.ReadFile(specPath)
		if err != nil {
			http.Error(w, "OpenAPI spec not found", http.StatusNotFound)
			return
		}

		var spec interface{}
		if err := yaml.Unmarshal(yamlData, &spec); err != nil {
			http.Error(w, "Error parsing OpenAPI spec", http.StatusInternalServerError)
			return
		}

		jsonData, err := json.MarshalIndent(convertYAMLKeys(spec), "", "  ")
		if err != nil {
			http.Error(w, "Error converting to JSON", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
		return
	}

	w.Header().Set("Content-Type", "text/yaml")
	http.ServeFile(w, r, specPath)
}

// convertYAMLKeys rewrites yaml.v2's map[interface{}]interface{} into
// JSON-encodable map[string]interface{}.
func convertYAMLKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[fmt.Sprintf("%v", k)] = convertYAMLKeys(val)
		}
		return out
	case []interface{}:
		for i, val := range v {
			v[i] = convertYAMLKeys(val)
		}
		return v
	default:
		return v
	}
}

// handleSwaggerUI serves a minimal Swagger UI page pointed at the spec.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Model Router - API Documentation</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: '/docs/openapi.yaml',
                dom_id: '#swagger-ui',
                deepLinking: true,
                docExpansion: "list",
                validatorUrl: null
            });
        };
    </script>
</body>
</html>`

	w.Write([]byte(html))
}

package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// landingPage is the static storefront page. Serving it with a 200 is the
// readiness signal the deployment pipeline probes for.
const landingPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>eStore</title>
</head>
<body>
  <h1>Welcome to eStore</h1>
  <p>The product catalog is available at <a href="products">products</a>.</p>
</body>
</html>
`

// Routes returns the service's two read-only endpoints: the landing page at
// the root and the product listing at /products.
func Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", handleLanding)
	r.Get("/products", handleProducts)
	return r
}

func handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(landingPage))
}

func handleProducts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Products())
}

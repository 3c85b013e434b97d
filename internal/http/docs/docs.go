// Package docs serves the embedded OpenAPI description and a browsable
// reference page.
package docs

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec returns the embedded OpenAPI document as YAML.
func Spec() []byte {
	return specYAML
}

// Load parses and validates the embedded document.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

var specJSON = sync.OnceValues(func() ([]byte, error) {
	doc, err := Load(context.Background())
	if err != nil {
		return nil, err
	}
	return doc.MarshalJSON()
})

var specETag = sync.OnceValue(func() string {
	sum := sha256.Sum256(specYAML)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
})

func serveSpec(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
	etag := specETag()
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// YAMLHandler serves the document as written.
func YAMLHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveSpec(w, r, "application/yaml; charset=utf-8", specYAML)
	})
}

// JSONHandler serves the validated document re-encoded as JSON.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := specJSON()
		if err != nil {
			http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
			return
		}
		serveSpec(w, r, "application/json", body)
	})
}

var referencePage = template.Must(template.New("reference").Parse(`<!doctype html>
<html>
  <head>
    <title>Chatflow Access API Reference</title>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body { margin: 0; }</style>
  </head>
  <body>
    <script id="api-reference" data-url="{{.SpecURL}}" data-configuration='{"theme":"purple"}'></script>
    <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
  </body>
</html>`))

// ReferenceHandler renders specURL with the Scalar API reference.
func ReferenceHandler(specURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = referencePage.Execute(w, struct{ SpecURL string }{specURL})
	})
}

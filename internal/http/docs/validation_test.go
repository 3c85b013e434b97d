package docs

import (
	"context"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	require.NotEmpty(t, Spec(), "embedded openapi.yaml is empty or was not loaded")

	doc, err := Load(context.Background())
	require.NoError(t, err)
	return doc
}

func TestOpenAPISpec_AdminRoutesDocumentCapabilityFailures(t *testing.T) {
	doc := loadSpec(t)

	for path, item := range doc.Paths.Map() {
		if !strings.HasPrefix(path, "/v1/") {
			continue
		}
		for method, op := range item.Operations() {
			assert.NotNil(t, op.Responses.Value("401"), "%s %s lacks a 401 response", method, path)
			assert.NotNil(t, op.Responses.Value("403"), "%s %s lacks a 403 response", method, path)
		}
	}
}

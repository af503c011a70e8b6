package nemorasdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	var gotAuth, gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		gotType = r.Header.Get("Content-Type")
		switch r.URL.Path {
		case "/api/generate-lifecycle":
			var in ProductInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "Acme", in.Name)
			_ = json.NewEncoder(w).Encode(Plan{Phases: []Phase{{Name: "Build", Status: "active"}}})
		case "/api/session/report/export":
			assert.Equal(t, "html", r.URL.Query().Get("format"))
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>Acme</h1>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "nem_secret"
	plan, err := c.GenerateLifecycle(context.Background(), ProductInput{Name: "Acme", Description: "d"})
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, "active", plan.Phases[0].Status)
	assert.Equal(t, "nem_secret", gotKey)
	assert.Equal(t, "application/json", gotType)

	c.BearerToken = "tok"
	doc, err := c.ExportReport(context.Background(), "html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Acme</h1>", doc)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Empty(t, gotType)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"no_plan","message":"no lifecycle plan has been generated"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).GenerateReport(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "no_plan", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "no lifecycle plan")
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkReadPostsToEndpoint(t *testing.T) {
	var gotPath, gotUserID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		var body struct {
			UserID string `json:"user_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotUserID = body.UserID
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL(srv.URL, nil)
	require.NoError(t, c.MarkRead(context.Background(), "42", "u1"))
	assert.Equal(t, "/messages/42/mark-read", gotPath)
	assert.Equal(t, "u1", gotUserID)
}

func TestMarkReadSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such message", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL(srv.URL, nil)
	err := c.MarkRead(context.Background(), "missing", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

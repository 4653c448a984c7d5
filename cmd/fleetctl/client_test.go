package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON_SendsBodyAndReturnsStatus(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	status, _, err := postJSON(srv.URL, map[string]bool{"auto_activate": true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Contains(t, gotBody, "auto_activate")
}

func TestGetJSON_UnmarshalsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"running":true,"result_count":3}`))
	}))
	defer srv.Close()

	var out struct {
		Running     bool `json:"running"`
		ResultCount int  `json:"result_count"`
	}
	status, err := getJSON(srv.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, out.Running)
	assert.Equal(t, 3, out.ResultCount)
}

func TestGetJSON_ErrorStatusIsReturnedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := getJSON(srv.URL, nil)
	assert.Error(t, err)
}

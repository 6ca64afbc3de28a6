package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeploySendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deploy" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"done","timestamp":"2025-01-02T03:04:05Z","count":4,"deployment_id":"abc"}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := cli.Deploy(context.Background(), " secret ")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !resp.Success || resp.Count != 4 || resp.DeploymentID != "abc" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDeployFailureCarriesStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"jekyll build failed: template error","step":"jekyll_build"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.Deploy(context.Background(), "secret")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Step != "jekyll_build" || apiErr.Message != "jekyll build failed: template error" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestAPIKeyForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"local access only"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.APIKey(context.Background())
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Message != "local access only" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestHistoryPassesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("unexpected limit %q", got)
		}
		_, _ = w.Write([]byte(`{"deployments":[{"id":"b","status":"success"},{"id":"a","status":"failed","stage":"git_push"}]}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	entries, err := cli.History(context.Background(), 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 || entries[1].Stage != "git_push" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("")
	if err != nil || cli.baseURL != DefaultBaseURL {
		t.Fatalf("expected default base url, got %v %v", cli, err)
	}
	cli, _ = New("localhost:5000/")
	if cli.baseURL != "http://localhost:5000" {
		t.Fatalf("unexpected base url %q", cli.baseURL)
	}
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dropwire/models"
)

func TestFetchICEServersFromBroker(t *testing.T) {
	want := []models.ICEServer{
		{URLs: []string{"turn:turn.example.net:3478"}, Username: "u", Credential: "c"},
		{URLs: []string{"stun:stun.example.net:3478"}},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/turn-credentials" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer server.Close()

	got := FetchICEServers(context.Background(), server.URL)
	if len(got) != 2 || got[0].Username != "u" {
		t.Errorf("servers = %+v, want %+v", got, want)
	}
}

func TestFetchICEServersFallsBackOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	got := FetchICEServers(context.Background(), server.URL)
	if len(got) != 1 || got[0].URLs[0] != "stun:stun.relay.metered.ca:80" {
		t.Errorf("servers = %+v, want the hardcoded fallback", got)
	}
}

func TestFetchICEServersFallsBackOnEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.ICEServer{})
	}))
	defer server.Close()

	got := FetchICEServers(context.Background(), server.URL)
	if len(got) != 1 || got[0].URLs[0] != "stun:stun.relay.metered.ca:80" {
		t.Errorf("servers = %+v, want the hardcoded fallback", got)
	}
}

func TestFetchICEServersFallsBackWhenUnreachable(t *testing.T) {
	got := FetchICEServers(context.Background(), "http://127.0.0.1:1")
	if len(got) != 1 {
		t.Errorf("servers = %+v, want the hardcoded fallback", got)
	}
}

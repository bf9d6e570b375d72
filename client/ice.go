package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"dropwire/models"
)

const iceFetchTimeout = 5 * time.Second

// FallbackICEServers is the hardcoded public traversal list used when the
// credentials endpoint is unreachable. Link establishment never hard-fails
// just because that service is down.
func FallbackICEServers() []models.ICEServer {
	return []models.ICEServer{
		{URLs: []string{"stun:stun.relay.metered.ca:80"}},
	}
}

// FetchICEServers retrieves the relay/traversal descriptor list from the
// broker's credentials endpoint, falling back to FallbackICEServers on any
// failure.
func FetchICEServers(ctx context.Context, brokerURL string) []models.ICEServer {
	servers, err := fetchICEServers(ctx, brokerURL)
	if err != nil {
		log.Printf("client: fetch relay credentials: %v (using fallback list)", err)
		return FallbackICEServers()
	}
	if len(servers) == 0 {
		return FallbackICEServers()
	}
	return servers
}

func fetchICEServers(ctx context.Context, brokerURL string) ([]models.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, iceFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, brokerURL+"/api/turn-credentials", nil)
	if err != nil {
		return nil, fmt.Errorf("build credentials request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch credentials: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credentials endpoint returned %s", resp.Status)
	}

	var servers []models.ICEServer
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return servers, nil
}

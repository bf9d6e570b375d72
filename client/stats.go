package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dropwire/models"
)

const statsRequestTimeout = 5 * time.Second

// ReportTransfer posts one completed-transfer record to the stats endpoint.
// Callers treat failures as advisory; the transfer itself already succeeded.
func ReportTransfer(ctx context.Context, brokerURL string, record models.TransferRecord) error {
	ctx, cancel := context.WithTimeout(ctx, statsRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal transfer record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brokerURL+"/api/stats", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build stats request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post transfer record: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stats endpoint returned %s", resp.Status)
	}
	return nil
}

// FetchTotals retrieves the aggregated transfer counters.
func FetchTotals(ctx context.Context, brokerURL string) (models.TransferTotals, error) {
	ctx, cancel := context.WithTimeout(ctx, statsRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, brokerURL+"/api/stats", nil)
	if err != nil {
		return models.TransferTotals{}, fmt.Errorf("build stats request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.TransferTotals{}, fmt.Errorf("fetch stats: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return models.TransferTotals{}, fmt.Errorf("stats endpoint returned %s", resp.Status)
	}

	var totals models.TransferTotals
	if err := json.NewDecoder(resp.Body).Decode(&totals); err != nil {
		return models.TransferTotals{}, fmt.Errorf("decode stats: %w", err)
	}
	return totals, nil
}

package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/models"
)

const (
	InventoryBackendElasticsearch = "elasticsearch"
	InventoryBackendHTTP          = "http"
)

type InventoryConfig struct {
	Backend string        `mapstructure:"backend"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// InventoryClient reads rental items from an HTTP catalog service
type InventoryClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewInventoryClient(cfg InventoryConfig) *InventoryClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &InventoryClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *InventoryClient) GetItem(ctx context.Context, id string) (*models.InventoryItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/items/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInventoryUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrItemNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status code: %d", apperrors.ErrInventoryUnavailable, resp.StatusCode)
	}

	var item models.InventoryItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", apperrors.ErrInventoryUnavailable, err)
	}

	return &item, nil
}

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"rentsaga/internal/config"
	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/models"
)

// InventoryIndex хранит арендуемые позиции в индексе Elasticsearch
type InventoryIndex struct {
	client *elasticsearch.Client
	config config.ElasticsearchConfig
}

// NewInventoryIndex создает клиент и индекс, если его еще нет
func NewInventoryIndex(ctx context.Context, cfg config.ElasticsearchConfig) (*InventoryIndex, error) {
	esCfg := elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	}
	if cfg.Timeout > 0 {
		esCfg.Transport = &http.Transport{ResponseHeaderTimeout: cfg.Timeout}
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	idx := &InventoryIndex{
		client: es,
		config: cfg,
	}

	if err := idx.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return idx, nil
}

// ensureIndex создает индекс с маппингом позиций
func (i *InventoryIndex) ensureIndex(ctx context.Context) error {
	req := esapi.IndicesExistsRequest{
		Index: []string{i.config.Index},
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		slog.Info("Elasticsearch index already exists", "index", i.config.Index)
		return nil
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":            map[string]interface{}{"type": "keyword"},
				"name":          map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256}}},
				"status":        map[string]interface{}{"type": "keyword"},
				"price_per_day": map[string]interface{}{"type": "long"},
				"currency":      map[string]interface{}{"type": "keyword"},
				"location":      map[string]interface{}{"type": "keyword"},
				"updated_at":    map[string]interface{}{"type": "date"},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createReq := esapi.IndicesCreateRequest{
		Index: i.config.Index,
		Body:  bytes.NewReader(body),
	}

	createRes, err := createReq.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", i.config.Index)
	return nil
}

// GetItem получает позицию по ID. 404 означает, что позиции нет; любые другие
// сбои трактуются как недоступность инвентаря.
func (i *InventoryIndex) GetItem(ctx context.Context, id string) (*models.InventoryItem, error) {
	req := esapi.GetRequest{
		Index:      i.config.Index,
		DocumentID: id,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInventoryUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrItemNotFound, id)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: elasticsearch error: %s", apperrors.ErrInventoryUnavailable, res.String())
	}

	var response struct {
		Found  bool                 `json:"found"`
		Source models.InventoryItem `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", apperrors.ErrInventoryUnavailable, err)
	}
	if !response.Found {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrItemNotFound, id)
	}

	return &response.Source, nil
}

// IndexItem индексирует позицию
func (i *InventoryIndex) IndexItem(ctx context.Context, item *models.InventoryItem) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.config.Index,
		DocumentID: item.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("failed to index item: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}

	return nil
}

// Count возвращает количество позиций в индексе
func (i *InventoryIndex) Count(ctx context.Context) (int64, error) {
	req := esapi.CountRequest{
		Index: []string{i.config.Index},
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return 0, fmt.Errorf("failed to execute count: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("count error: %s", res.String())
	}

	var response struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}

	return response.Count, nil
}

// HealthCheck проверяет состояние Elasticsearch
func (i *InventoryIndex) HealthCheck(ctx context.Context) error {
	req := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}

	return nil
}

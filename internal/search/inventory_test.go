package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentsaga/internal/config"
	apperrors "rentsaga/internal/errors"
	"rentsaga/internal/models"
)

func fakeElasticsearch(t *testing.T, indexExists bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var created atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/inventory":
			if indexExists {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/inventory":
			created.Add(1)
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		case r.URL.Path == "/inventory/_doc/car-1" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"_index":"inventory","_id":"car-1","found":true,"_source":{"id":"car-1","name":"Compact","status":"available","price_per_day":4500,"currency":"USD"}}`))
		case r.URL.Path == "/inventory/_doc/broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"shard failure"}`))
		case r.URL.Path == "/inventory/_doc/car-2" && r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"result":"created"}`))
		case r.URL.Path == "/inventory/_count":
			_, _ = w.Write([]byte(`{"count":12}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"_index":"inventory","found":false}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &created
}

func newTestIndex(t *testing.T, url string) *InventoryIndex {
	t.Helper()
	idx, err := NewInventoryIndex(context.Background(), config.ElasticsearchConfig{URL: url, Index: "inventory"})
	require.NoError(t, err)
	return idx
}

func TestNewInventoryIndex_CreatesMissingIndex(t *testing.T) {
	srv, created := fakeElasticsearch(t, false)
	newTestIndex(t, srv.URL)
	assert.Equal(t, int32(1), created.Load())
}

func TestInventoryIndex_GetItem(t *testing.T) {
	srv, _ := fakeElasticsearch(t, true)
	idx := newTestIndex(t, srv.URL)

	item, err := idx.GetItem(context.Background(), "car-1")
	require.NoError(t, err)
	assert.Equal(t, "Compact", item.Name)
	assert.Equal(t, int64(4500), item.PricePerDay)

	_, err = idx.GetItem(context.Background(), "car-404")
	assert.ErrorIs(t, err, apperrors.ErrItemNotFound)

	_, err = idx.GetItem(context.Background(), "broken")
	assert.ErrorIs(t, err, apperrors.ErrInventoryUnavailable)
}

func TestInventoryIndex_IndexAndCount(t *testing.T) {
	srv, _ := fakeElasticsearch(t, true)
	idx := newTestIndex(t, srv.URL)

	item := &models.InventoryItem{ID: "car-2", Name: "Van", Status: "available", PricePerDay: 9000, Currency: "USD"}
	require.NoError(t, idx.IndexItem(context.Background(), item))
	assert.False(t, item.UpdatedAt.IsZero())

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}

// search/elastic.go
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	autherrors "github.com/hdgokani/atlan-metastore-sub001/errors"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
)

// Document is one hit returned by the search engine, together with the names
// of the query clauses it matched.
type Document struct {
	ID             string
	Source         map[string]interface{}
	MatchedClauses []string
}

// Result is the slice of a search response the authorization core needs:
// the total hit count and per-document matched clause names.
type Result struct {
	Total     int64
	Documents []Document
}

// Executor runs a compiled query against the vertex index. The core treats
// this as an opaque RPC; only clause-name correlation is read back.
type Executor interface {
	Execute(ctx context.Context, query map[string]interface{}) (*Result, error)
}

// ElasticsearchExecutor executes queries against the metadata vertex index.
type ElasticsearchExecutor struct {
	esClient *elasticsearch.Client
	index    string
}

// NewElasticsearchExecutor creates an executor for a given Elasticsearch URL
// and index name.
func NewElasticsearchExecutor(esURL, index string) (*ElasticsearchExecutor, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}
	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ElasticsearchExecutor{esClient: esClient, index: index}, nil
}

// Execute runs the query and extracts hit ids, sources and matched clause
// names from the response.
func (e *ElasticsearchExecutor) Execute(ctx context.Context, query map[string]interface{}) (*Result, error) {
	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := e.esClient.Search(
		e.esClient.Search.WithContext(ctx),
		e.esClient.Search.WithIndex(e.index),
		e.esClient.Search.WithBody(strings.NewReader(buf.String())),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherrors.ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		logger.Error("Search request rejected by Elasticsearch",
			zap.String("index", e.index),
			zap.String("status", res.Status()))
		return nil, fmt.Errorf("%w: %s", autherrors.ErrSearchFailed, res.Status())
	}

	var response struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID             string                 `json:"_id"`
				Source         map[string]interface{} `json:"_source"`
				MatchedQueries []string               `json:"matched_queries"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", autherrors.ErrSearchFailed, err)
	}

	result := &Result{Total: response.Hits.Total.Value}
	for _, hit := range response.Hits.Hits {
		result.Documents = append(result.Documents, Document{
			ID:             hit.ID,
			Source:         hit.Source,
			MatchedClauses: hit.MatchedQueries,
		})
	}

	logger.Debug("Executed authorization search",
		zap.String("index", e.index),
		zap.Int64("total", result.Total))
	return result, nil
}

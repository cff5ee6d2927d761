// audit/audit.go
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
)

const decisionIndex = "authz-decision-logs"

// DecisionLog records one authorization decision for after-the-fact review.
type DecisionLog struct {
	Timestamp        time.Time `json:"timestamp"`
	User             string    `json:"user"`
	Action           string    `json:"action"`
	EntityID         string    `json:"entityId,omitempty"`
	RelationshipType string    `json:"relationshipType,omitempty"`
	Allowed          bool      `json:"allowed"`
	PolicyID         string    `json:"policyId,omitempty"`
	Path             string    `json:"path"` // "memory" or "search"
}

// Service records decisions. Recording is best-effort: a failed write is
// logged, never surfaced to the authorization caller.
type Service interface {
	RecordDecision(ctx context.Context, log DecisionLog)
}

// ElasticsearchService writes decision logs to their own index, separate
// from the vertex index the compiler queries.
type ElasticsearchService struct {
	esClient *elasticsearch.Client
}

func NewElasticsearchService(esURL string) (*ElasticsearchService, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}
	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ElasticsearchService{esClient: esClient}, nil
}

func (s *ElasticsearchService) RecordDecision(ctx context.Context, log DecisionLog) {
	data, err := json.Marshal(log)
	if err != nil {
		logger.Error("Failed to marshal decision log", zap.Error(err))
		return
	}

	req := esapi.IndexRequest{
		Index:      decisionIndex,
		DocumentID: fmt.Sprintf("%d-%s-%s", log.Timestamp.UnixNano(), log.User, log.Action),
		Body:       strings.NewReader(string(data)),
	}

	res, err := req.Do(ctx, s.esClient)
	if err != nil {
		logger.Error("Failed to write decision log", zap.Error(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		logger.Error("Decision log rejected by Elasticsearch",
			zap.String("status", res.Status()))
	}
}

// NopService discards decision logs; used when auditing is disabled.
type NopService struct{}

func (NopService) RecordDecision(context.Context, DecisionLog) {}

// db/neo4j.go
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/hdgokani/atlan-metastore-sub001/config"
	autherrors "github.com/hdgokani/atlan-metastore-sub001/errors"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
)

var Neo4jDriver neo4j.Driver

func InitNeo4j() error {
	var err error
	uri := config.GetString("neo4j.uri")
	logger.Info("Connecting to Neo4j at URI", zap.String("uri", uri))
	Neo4jDriver, err = neo4j.NewDriver(
		uri,
		neo4j.BasicAuth(
			config.GetString("neo4j.username"),
			config.GetString("neo4j.password"),
			"",
		),
		func(c *neo4j.Config) {
			c.MaxConnectionLifetime = 30 * time.Minute
			c.MaxConnectionPoolSize = 50
			c.Log = neo4j.ConsoleLogger(neo4j.ERROR)
		},
	)

	if err != nil {
		return fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	err = Neo4jDriver.VerifyConnectivity()
	if err != nil {
		return fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	logger.Info("Successfully connected to Neo4j")
	return nil
}

func CloseNeo4j() {
	if Neo4jDriver != nil {
		err := Neo4jDriver.Close()
		if err != nil {
			logger.Error("Error closing Neo4j connection", zap.Error(err))
		} else {
			logger.Info("Neo4j connection closed successfully")
		}
	}
}

// ExecuteReadTransaction executes a read transaction
func ExecuteReadTransaction(ctx context.Context, work neo4j.TransactionWork) (interface{}, error) {
	session := Neo4jDriver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	result, err := session.ReadTransaction(work)
	if err != nil {
		return nil, fmt.Errorf("failed to execute read transaction: %w", err)
	}

	return result, nil
}

// VertexStore resolves entity attributes that did not arrive with the access
// request. The policy evaluator falls back to it when an attribute referenced
// by a filter criterion is absent from the request payload.
type VertexStore interface {
	GetVertexProperty(ctx context.Context, entityID, attributeName string) ([]string, error)
}

// Neo4jVertexStore reads entity vertices from the metadata graph.
type Neo4jVertexStore struct{}

func NewNeo4jVertexStore() *Neo4jVertexStore {
	return &Neo4jVertexStore{}
}

// GetVertexProperty looks up one attribute of the vertex identified by the
// entity guid. A missing vertex or missing property yields an empty slice,
// not an error; infrastructure failures wrap errors.ErrVertexLookupFailed.
func (s *Neo4jVertexStore) GetVertexProperty(ctx context.Context, entityID, attributeName string) ([]string, error) {
	result, err := ExecuteReadTransaction(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		records, err := tx.Run(
			"MATCH (v:Vertex {__guid: $guid}) RETURN v[$attribute] AS value",
			map[string]interface{}{
				"guid":      entityID,
				"attribute": attributeName,
			},
		)
		if err != nil {
			return nil, err
		}

		record, err := records.Single()
		if err != nil {
			// No vertex for this guid.
			return []string{}, nil
		}

		value, found := record.Get("value")
		if !found || value == nil {
			return []string{}, nil
		}
		return vertexValueToStrings(value), nil
	})
	if err != nil {
		logger.Error("Vertex attribute lookup failed",
			zap.String("entityId", entityID),
			zap.String("attribute", attributeName),
			zap.Error(err))
		return nil, fmt.Errorf("%w: entity %s attribute %s", autherrors.ErrVertexLookupFailed, entityID, attributeName)
	}

	values, ok := result.([]string)
	if !ok {
		return []string{}, nil
	}

	logger.Debug("Resolved vertex attribute",
		zap.String("entityId", entityID),
		zap.String("attribute", attributeName),
		zap.Int("values", len(values)))
	return values, nil
}

// vertexValueToStrings normalizes a Neo4j property into the string list shape
// the criteria evaluator works with.
func vertexValueToStrings(value interface{}) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case bool:
		if v {
			return []string{"true"}
		}
		return []string{"false"}
	case int64:
		return []string{fmt.Sprintf("%d", v)}
	case float64:
		return []string{model.FormatNumber(v)}
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

// authz/engine/criteria.go
package engine

import (
	"context"
	"strings"

	"github.com/hdgokani/atlan-metastore-sub001/db"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// maxCriteriaDepth bounds filter-criteria recursion; a tree nested deeper is
// treated as matching nothing.
const maxCriteriaDepth = 64

// CriteriaEvaluator decides whether an entity satisfies a policy's filter
// criteria tree. Attributes missing from the entity payload are resolved
// through the vertex store; a failed lookup counts as no values, so the
// outcome stays fail-closed.
type CriteriaEvaluator struct {
	vertexStore db.VertexStore
}

func NewCriteriaEvaluator(vertexStore db.VertexStore) *CriteriaEvaluator {
	return &CriteriaEvaluator{vertexStore: vertexStore}
}

// Evaluate walks the criteria tree against the entity. A nil tree matches
// everything; an empty branch matches nothing.
func (e *CriteriaEvaluator) Evaluate(ctx context.Context, entity *model.Entity, criteria *model.FilterCriteria) bool {
	if criteria == nil {
		return true
	}
	return e.evaluate(ctx, entity, criteria, 0)
}

func (e *CriteriaEvaluator) evaluate(ctx context.Context, entity *model.Entity, criteria *model.FilterCriteria, depth int) bool {
	if depth >= maxCriteriaDepth {
		logger.Warn("Filter criteria nested beyond depth limit, treating as non-matching",
			zap.String("entityId", entity.ID))
		return false
	}

	if criteria.IsBranch() {
		if len(criteria.Criterion) == 0 {
			return false
		}
		switch criteria.Condition {
		case model.ConditionAnd:
			for i := range criteria.Criterion {
				if !e.evaluate(ctx, entity, &criteria.Criterion[i], depth+1) {
					return false
				}
			}
			return true
		case model.ConditionOr:
			for i := range criteria.Criterion {
				if e.evaluate(ctx, entity, &criteria.Criterion[i], depth+1) {
					return true
				}
			}
			return false
		default:
			logger.Warn("Unknown filter criteria condition, treating as non-matching",
				zap.String("condition", string(criteria.Condition)))
			return false
		}
	}

	return e.evaluateLeaf(ctx, entity, criteria)
}

func (e *CriteriaEvaluator) evaluateLeaf(ctx context.Context, entity *model.Entity, criteria *model.FilterCriteria) bool {
	attributeName := normalizeAttributeName(criteria.AttributeName)
	entityValues := e.resolveAttribute(ctx, entity, attributeName)

	switch criteria.Operator {
	case model.OperatorEquals:
		return containsAny(entityValues, []string{criteria.AttributeValue})
	case model.OperatorNotEquals:
		return !containsAny(entityValues, []string{criteria.AttributeValue})
	case model.OperatorStartsWith:
		for _, value := range entityValues {
			if strings.HasPrefix(value, criteria.AttributeValue) {
				return true
			}
		}
		return false
	case model.OperatorEndsWith:
		for _, value := range entityValues {
			if strings.HasSuffix(value, criteria.AttributeValue) {
				return true
			}
		}
		return false
	case model.OperatorLike:
		for _, value := range entityValues {
			if wildcardMatch(criteria.AttributeValue, value) {
				return true
			}
		}
		return false
	default:
		logger.Warn("Unknown filter criteria operator, treating as non-matching",
			zap.String("operator", string(criteria.Operator)),
			zap.String("attributeName", attributeName))
		return false
	}
}

// resolveAttribute gathers the entity's values for an attribute: synthetic
// trait attributes first, then the request payload, then the vertex store.
func (e *CriteriaEvaluator) resolveAttribute(ctx context.Context, entity *model.Entity, attributeName string) []string {
	switch attributeName {
	case model.TraitNamesAttr:
		return entity.DirectTraitNames()
	case model.PropagatedTraitNamesAttr:
		return entity.PropagatedTraitNames()
	case model.GuidAttr:
		return []string{entity.ID}
	case model.TypeNameAttr:
		return []string{entity.TypeName}
	}

	value := entity.Attribute(attributeName)
	if !value.IsAbsent() {
		return value.Strings()
	}

	if e.vertexStore == nil || entity.ID == "" {
		return nil
	}
	values, err := e.vertexStore.GetVertexProperty(ctx, entity.ID, attributeName)
	if err != nil {
		logger.Warn("Falling back to empty attribute after vertex lookup failure",
			zap.String("entityId", entity.ID),
			zap.String("attributeName", attributeName),
			zap.Error(err))
		return nil
	}
	return values
}

// normalizeAttributeName drops Elasticsearch field suffixes so criteria
// authored against index fields resolve against entity attributes.
func normalizeAttributeName(name string) string {
	if trimmed, ok := strings.CutSuffix(name, ".text"); ok {
		return trimmed
	}
	if trimmed, ok := strings.CutSuffix(name, ".keyword"); ok {
		return trimmed
	}
	return name
}

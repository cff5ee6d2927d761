// authz/compiler/criteria_query.go
package compiler

import (
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

type query = map[string]interface{}

// criteriaToQuery translates an ABAC filter-criteria tree into the
// equivalent Elasticsearch bool query. A branch with no children and an
// unknown operator both translate to a match-nothing clause, mirroring the
// in-memory evaluator's fail-closed behavior.
func criteriaToQuery(criteria *model.FilterCriteria) query {
	if criteria == nil {
		return matchNothing()
	}

	if criteria.IsBranch() {
		if len(criteria.Criterion) == 0 {
			return matchNothing()
		}
		children := make([]interface{}, 0, len(criteria.Criterion))
		for i := range criteria.Criterion {
			children = append(children, criteriaToQuery(&criteria.Criterion[i]))
		}

		switch criteria.Condition {
		case model.ConditionAnd:
			return query{"bool": query{"filter": children}}
		case model.ConditionOr:
			return query{"bool": query{
				"should":               children,
				"minimum_should_match": 1,
			}}
		default:
			logger.Warn("Unknown filter criteria condition in query compilation",
				zap.String("condition", string(criteria.Condition)))
			return matchNothing()
		}
	}

	return leafToQuery(criteria)
}

func leafToQuery(criteria *model.FilterCriteria) query {
	attribute := criteria.AttributeName
	value := criteria.AttributeValue

	switch criteria.Operator {
	case model.OperatorEquals:
		return query{"term": query{attribute: value}}
	case model.OperatorNotEquals:
		return query{"bool": query{
			"must_not": query{"term": query{attribute: value}},
		}}
	case model.OperatorStartsWith:
		return query{"wildcard": query{attribute: value + "*"}}
	case model.OperatorEndsWith:
		return query{"wildcard": query{attribute: "*" + value}}
	case model.OperatorLike:
		return query{"wildcard": query{attribute: value}}
	default:
		logger.Warn("Unknown filter criteria operator in query compilation",
			zap.String("operator", string(criteria.Operator)),
			zap.String("attributeName", attribute))
		return matchNothing()
	}
}

// matchNothing is the fail-closed clause: it can never match a document.
func matchNothing() query {
	return query{"bool": query{"must_not": query{"match_all": query{}}}}
}

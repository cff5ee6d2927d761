// authz/compiler/correlator.go
package compiler

import (
	"context"
	"sort"
	"strings"

	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"github.com/hdgokani/atlan-metastore-sub001/search"
	"go.uber.org/zap"
)

// Correlator executes compiled queries and reconstructs decisions from the
// matched clause names in the response.
type Correlator struct {
	compiler *Compiler
	executor search.Executor
}

func NewCorrelator(compiler *Compiler, executor search.Executor) *Correlator {
	return &Correlator{compiler: compiler, executor: executor}
}

// CheckEntityAccess decides access to one entity by guid without
// materializing it: the document matches the query only when at least one
// policy clause matches, and the clause name tells allow from deny.
func (c *Correlator) CheckEntityAccess(ctx context.Context, user string, action, guid string) (model.Decision, error) {
	compiled := c.compiler.EntityQuery(user, []string{action}, guid)

	result, err := c.executor.Execute(ctx, compiled)
	if err != nil {
		return model.Decision{}, err
	}
	if result.Total == 0 || len(result.Documents) == 0 {
		return model.Decision{Allowed: false}, nil
	}

	matched := result.Documents[0].MatchedClauses
	for _, clause := range matched {
		if strings.HasSuffix(clause, denySuffix) {
			return model.Decision{
				Allowed:  false,
				PolicyID: strings.TrimSuffix(clause, denySuffix),
			}, nil
		}
	}
	if len(matched) == 0 {
		return model.Decision{Allowed: false}, nil
	}
	return model.Decision{Allowed: true, PolicyID: matched[0]}, nil
}

// ListFilter compiles the pre-filter for entity list searches: the query
// matches exactly the documents the user is allowed to act on.
func (c *Correlator) ListFilter(user string, actions []string) map[string]interface{} {
	return c.compiler.ListQuery(user, actions)
}

// CheckRelationshipAccess decides access to a relationship between the two
// guids. Both end documents must be returned, and the decision rests on the
// intersection of their matched clause names: only a policy that matched
// both ends simultaneously counts.
func (c *Correlator) CheckRelationshipAccess(ctx context.Context, user string, action, endOneGuid, endTwoGuid string) (model.Decision, error) {
	compiled := c.compiler.RelationshipQuery(user, []string{action}, endOneGuid, endTwoGuid)

	result, err := c.executor.Execute(ctx, compiled)
	if err != nil {
		return model.Decision{}, err
	}
	if result.Total != 2 {
		logger.Debug("Relationship query did not return both end documents",
			zap.String("endOneGuid", endOneGuid),
			zap.String("endTwoGuid", endTwoGuid),
			zap.Int64("total", result.Total))
		return model.Decision{Allowed: false}, nil
	}

	endOneMatched := map[string]bool{}
	endTwoMatched := map[string]bool{}
	for _, doc := range result.Documents {
		var target map[string]bool
		switch docGuid(doc) {
		case endOneGuid:
			target = endOneMatched
		case endTwoGuid:
			target = endTwoMatched
		default:
			continue
		}
		for _, clause := range doc.MatchedClauses {
			target[stripEndPrefix(clause)] = true
		}
	}

	// A policy allows (or denies) the relationship only when it matched both
	// ends; independent matches on different policies do not compose.
	var common []string
	for clause := range endOneMatched {
		if endTwoMatched[clause] {
			common = append(common, clause)
		}
	}
	if len(common) == 0 {
		return model.Decision{Allowed: false}, nil
	}
	sort.Strings(common)

	for _, clause := range common {
		if strings.HasSuffix(clause, denySuffix) {
			return model.Decision{
				Allowed:  false,
				PolicyID: strings.TrimSuffix(clause, denySuffix),
			}, nil
		}
	}
	return model.Decision{Allowed: true, PolicyID: common[0]}, nil
}

// stripEndPrefix reduces an end-specific clause name to its policy id form;
// the shared tag clause name passes through verbatim.
func stripEndPrefix(clause string) string {
	if clause == tagClauseName {
		return clause
	}
	if strings.HasPrefix(clause, endOnePrefix) {
		return clause[len(endOnePrefix):]
	}
	if strings.HasPrefix(clause, endTwoPrefix) {
		return clause[len(endTwoPrefix):]
	}
	return clause
}

// docGuid prefers the indexed __guid field and falls back to the document id.
func docGuid(doc search.Document) string {
	if doc.Source != nil {
		if guid, ok := doc.Source[guidField].(string); ok && guid != "" {
			return guid
		}
	}
	return doc.ID
}

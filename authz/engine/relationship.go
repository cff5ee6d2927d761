// authz/engine/relationship.go
package engine

import (
	"context"

	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// IsRelationshipAccessAllowed decides whether user may perform action on a
// relationship between two entity headers. The shape mirrors single-entity
// evaluation, doubled: a policy matches only when both ends satisfy their
// respective constraints.
func (e *Evaluator) IsRelationshipAccessAllowed(ctx context.Context, user, relationshipType string, endOne, endTwo *model.Entity, action string) model.Decision {
	principal := e.store.ResolvePrincipal(user)
	endOneTypes := TypeAndSupertypes(e.registry, endOne.TypeName)
	endTwoTypes := TypeAndSupertypes(e.registry, endTwo.TypeName)

	if policyID, matched := e.evaluateRelationship(ctx, principal, relationshipType, endOne, endTwo, endOneTypes, endTwoTypes, action, model.PolicyTypeDeny); matched {
		logger.Debug("Relationship access denied by policy",
			zap.String("user", user),
			zap.String("relationshipType", relationshipType),
			zap.String("action", action),
			zap.String("policyId", policyID))
		return model.Decision{Allowed: false, PolicyID: policyID}
	}

	if policyID, matched := e.evaluateRelationship(ctx, principal, relationshipType, endOne, endTwo, endOneTypes, endTwoTypes, action, model.PolicyTypeAllow); matched {
		return model.Decision{Allowed: true, PolicyID: policyID}
	}

	return model.Decision{Allowed: false}
}

func (e *Evaluator) evaluateRelationship(ctx context.Context, principal store.Principal, relationshipType string, endOne, endTwo *model.Entity, endOneTypes, endTwoTypes []string, action string, policyType model.PolicyType) (string, bool) {
	actions := []string{action}

	for _, policy := range e.store.RelevantPolicies(principal, model.ResourceCategoryABAC, actions, policyType) {
		criteria, err := model.ParseFilterCriteria(policy.FilterCriteria)
		if err != nil {
			logger.Warn("Skipping policy with malformed filter criteria",
				zap.String("policyId", policy.ID), zap.Error(err))
			continue
		}
		if criteria.EndOneEntity == nil || criteria.EndTwoEntity == nil {
			continue
		}
		if e.criteria.Evaluate(ctx, endOne, criteria.EndOneEntity) &&
			e.criteria.Evaluate(ctx, endTwo, criteria.EndTwoEntity) {
			return policy.ID, true
		}
	}

	for _, policy := range e.store.RelevantPolicies(principal, model.ResourceCategoryRelationship, actions, policyType) {
		if e.matchesRelationshipPolicy(policy, relationshipType, endOne, endTwo, endOneTypes, endTwoTypes, principal.Name) {
			return policy.ID, true
		}
	}

	// Tag-scoped policies cover relationships as well: the policy matches
	// when each end carries at least one classification matching the tag
	// patterns, the same intersection the search path resolves through its
	// shared tag clause.
	for _, policy := range e.store.RelevantPolicies(principal, model.ResourceCategoryTag, actions, policyType) {
		patterns, ok := policy.Resources[model.ResourceTag]
		if !ok {
			continue
		}
		if matchesAnyClassification(patterns, endOne) && matchesAnyClassification(patterns, endTwo) {
			return policy.ID, true
		}
	}

	return "", false
}

// matchesRelationshipPolicy requires the relationship type plus every
// end-one-* and end-two-* constraint present on the policy to match.
func (e *Evaluator) matchesRelationshipPolicy(policy *model.Policy, relationshipType string, endOne, endTwo *model.Entity, endOneTypes, endTwoTypes []string, user string) bool {
	if len(policy.Resources) == 0 {
		return false
	}
	if allResourcesAreStar(policy.Resources) {
		return true
	}

	for kind, patterns := range policy.Resources {
		if containsString(patterns, "*") {
			continue
		}

		var matched bool
		switch kind {
		case model.ResourceRelationshipType:
			matched = anyWildcardMatch(patterns, []string{relationshipType}, user)
		case model.ResourceEndOneEntity:
			matched = anyWildcardMatch(patterns, []string{endOne.QualifiedName()}, user)
		case model.ResourceEndTwoEntity:
			matched = anyWildcardMatch(patterns, []string{endTwo.QualifiedName()}, user)
		case model.ResourceEndOneEntityType:
			matched = anyWildcardMatch(patterns, endOneTypes, user)
		case model.ResourceEndTwoEntityType:
			matched = anyWildcardMatch(patterns, endTwoTypes, user)
		case model.ResourceEndOneClassification:
			matched = matchesAnyClassification(patterns, endOne)
		case model.ResourceEndTwoClassification:
			matched = matchesAnyClassification(patterns, endTwo)
		default:
			logger.Warn("Unexpected resource kind on relationship policy, treating as non-matching",
				zap.String("resourceKind", kind))
			matched = false
		}
		if !matched {
			return false
		}
	}
	return true
}

// matchesAnyClassification applies relationship-end classification patterns:
// any classification carried by the end matching any pattern is enough.
// Unlike entity tag policies, this is an any-match semantic.
func matchesAnyClassification(patterns []string, entity *model.Entity) bool {
	for _, classification := range entity.Classifications {
		if anyWildcardMatch(patterns, []string{classification.TypeName}, "") {
			return true
		}
	}
	return false
}

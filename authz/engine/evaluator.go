// authz/engine/evaluator.go
package engine

import (
	"context"

	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

// Evaluator decides access for fully materialized entities against the
// current policy snapshot, entirely in memory. Deny policies always override
// allow policies; within one policy type, ABAC policies are consulted before
// resource and tag policies, and the first match wins.
type Evaluator struct {
	store    *store.SnapshotStore
	registry TypeRegistry
	criteria *CriteriaEvaluator
}

func NewEvaluator(snapshots *store.SnapshotStore, registry TypeRegistry, criteria *CriteriaEvaluator) *Evaluator {
	return &Evaluator{store: snapshots, registry: registry, criteria: criteria}
}

// IsAccessAllowed decides whether user may perform action on entity.
func (e *Evaluator) IsAccessAllowed(ctx context.Context, user string, entity *model.Entity, action string) model.Decision {
	principal := e.store.ResolvePrincipal(user)
	entityTypes := TypeAndSupertypes(e.registry, entity.TypeName)

	if policyID, matched := e.evaluate(ctx, principal, entity, entityTypes, action, model.PolicyTypeDeny); matched {
		logger.Debug("Access denied by policy",
			zap.String("user", user),
			zap.String("entityId", entity.ID),
			zap.String("action", action),
			zap.String("policyId", policyID))
		return model.Decision{Allowed: false, PolicyID: policyID}
	}

	if policyID, matched := e.evaluate(ctx, principal, entity, entityTypes, action, model.PolicyTypeAllow); matched {
		return model.Decision{Allowed: true, PolicyID: policyID}
	}

	return model.Decision{Allowed: false}
}

// evaluate finds the first policy of the given type matching the entity:
// ABAC policies first, then entity and tag resource policies.
func (e *Evaluator) evaluate(ctx context.Context, principal store.Principal, entity *model.Entity, entityTypes []string, action string, policyType model.PolicyType) (string, bool) {
	actions := []string{action}

	for _, policy := range e.store.RelevantPolicies(principal, model.ResourceCategoryABAC, actions, policyType) {
		criteria, err := model.ParseFilterCriteria(policy.FilterCriteria)
		if err != nil {
			logger.Warn("Skipping policy with malformed filter criteria",
				zap.String("policyId", policy.ID), zap.Error(err))
			continue
		}
		if criteria.Entity == nil {
			continue
		}
		if e.criteria.Evaluate(ctx, entity, criteria.Entity) {
			return policy.ID, true
		}
	}

	for _, category := range []model.ResourceCategory{model.ResourceCategoryEntity, model.ResourceCategoryTag} {
		for _, policy := range e.store.RelevantPolicies(principal, category, actions, policyType) {
			if e.matchesPolicy(policy, entity, entityTypes, principal.Name) {
				return policy.ID, true
			}
		}
	}

	return "", false
}

// matchesPolicy applies the resource patterns of one policy to the entity.
// Every resource-kind key present on the policy must individually match.
func (e *Evaluator) matchesPolicy(policy *model.Policy, entity *model.Entity, entityTypes []string, user string) bool {
	if len(policy.Resources) == 0 {
		return false
	}
	if _, hasTag := policy.Resources[model.ResourceTag]; !hasTag && allResourcesAreStar(policy.Resources) {
		return true
	}

	for kind, patterns := range policy.Resources {
		// Tag resources are never trivially satisfied: even a "*" pattern
		// requires the entity to carry at least one classification.
		if kind == model.ResourceTag {
			if !matchesAllClassifications(patterns, entity) {
				return false
			}
			continue
		}
		if containsString(patterns, "*") {
			continue
		}
		if !e.matchesResourceKind(kind, patterns, entity, entityTypes, user) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchesResourceKind(kind string, patterns []string, entity *model.Entity, entityTypes []string, user string) bool {
	switch kind {
	case model.ResourceEntityType:
		return anyWildcardMatch(patterns, entityTypes, user)
	case model.ResourceEntity, model.ResourceEntityBM:
		return anyWildcardMatch(patterns, []string{entity.QualifiedName()}, user)
	default:
		logger.Warn("Unexpected resource kind on entity policy, treating as non-matching",
			zap.String("resourceKind", kind))
		return false
	}
}

// matchesAllClassifications applies tag resource patterns: an entity with no
// classifications never matches, and every classification the entity carries
// must find a matching pattern.
func matchesAllClassifications(patterns []string, entity *model.Entity) bool {
	if len(entity.Classifications) == 0 {
		return false
	}
	for _, classification := range entity.Classifications {
		if !anyWildcardMatch(patterns, []string{classification.TypeName}, "") {
			return false
		}
	}
	return true
}

// allResourcesAreStar is the fast path for policies scoped to everything.
func allResourcesAreStar(resources map[string][]string) bool {
	for _, patterns := range resources {
		for _, pattern := range patterns {
			if pattern != "*" {
				return false
			}
		}
	}
	return true
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// authz/engine/evaluator_test.go
package engine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hdgokani/atlan-metastore-sub001/authz/engine"
	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	"github.com/hdgokani/atlan-metastore-sub001/model"
)

func newEvaluator(policies ...*model.Policy) (*engine.Evaluator, *store.SnapshotStore) {
	snapshots := store.NewSnapshotStore()
	snapshots.Publish(&model.PolicySnapshot{
		ServiceName:   "atlas",
		Policies:      policies,
		PolicyVersion: 1,
	})
	registry := engine.NewMapTypeRegistry(map[string][]string{
		"Table": {"SQL"},
		"SQL":   {"Asset"},
	})
	return engine.NewEvaluator(snapshots, registry, engine.NewCriteriaEvaluator(nil)), snapshots
}

func allowPolicy(id string, resources map[string][]string) *model.Policy {
	return &model.Policy{
		ID:               id,
		PolicyType:       model.PolicyTypeAllow,
		ResourceCategory: model.ResourceCategoryEntity,
		Resources:        resources,
		Actions:          []string{"entity-read"},
	}
}

func TestEvaluator_DenyOverridesAllow(t *testing.T) {
	allStar := map[string][]string{
		model.ResourceEntity:     {"*"},
		model.ResourceEntityType: {"*"},
	}
	deny := allowPolicy("deny-all", allStar)
	deny.PolicyType = model.PolicyTypeDeny

	e, _ := newEvaluator(allowPolicy("allow-all", allStar), deny)

	decision := e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "deny-all", decision.PolicyID)
}

func TestEvaluator_WildcardPolicyMatchesEverything(t *testing.T) {
	e, _ := newEvaluator(allowPolicy("allow-all", map[string][]string{
		model.ResourceEntity:     {"*"},
		model.ResourceEntityType: {"*"},
	}))

	decision := e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read")
	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow-all", decision.PolicyID)

	// Only the listed actions are covered.
	decision = e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-delete")
	assert.False(t, decision.Allowed)
}

func TestEvaluator_DefaultDeny(t *testing.T) {
	e, _ := newEvaluator()

	decision := e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read")
	assert.False(t, decision.Allowed)
	assert.Empty(t, decision.PolicyID)
}

func TestEvaluator_EntityTypeMatchesSupertypes(t *testing.T) {
	e, _ := newEvaluator(allowPolicy("asset-read", map[string][]string{
		model.ResourceEntityType: {"Asset"},
	}))

	// Table -> SQL -> Asset through the type registry.
	decision := e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read")
	assert.True(t, decision.Allowed)

	other := testEntity()
	other.TypeName = "Glossary"
	decision = e.IsAccessAllowed(context.Background(), "jdoe", other, "entity-read")
	assert.False(t, decision.Allowed)
}

func TestEvaluator_UserPlaceholderSubstitution(t *testing.T) {
	e, _ := newEvaluator(allowPolicy("own-assets", map[string][]string{
		model.ResourceEntity: {"default/*/{USER}"},
	}))

	entity := testEntity()
	entity.Attributes["qualifiedName"] = model.StringValue("default/snowflake/jdoe")

	assert.True(t, e.IsAccessAllowed(context.Background(), "jdoe", entity, "entity-read").Allowed)
	assert.False(t, e.IsAccessAllowed(context.Background(), "asmith", entity, "entity-read").Allowed)
}

func TestEvaluator_TagPolicies(t *testing.T) {
	tagPolicy := func(id string, tags []string) *model.Policy {
		return &model.Policy{
			ID:               id,
			PolicyType:       model.PolicyTypeAllow,
			ResourceCategory: model.ResourceCategoryTag,
			Resources:        map[string][]string{model.ResourceTag: tags},
			Actions:          []string{"entity-read"},
		}
	}

	t.Run("no classifications fails closed even for star", func(t *testing.T) {
		e, _ := newEvaluator(tagPolicy("any-tag", []string{"*"}))
		bare := testEntity()
		bare.Classifications = nil
		assert.False(t, e.IsAccessAllowed(context.Background(), "jdoe", bare, "entity-read").Allowed)
	})

	t.Run("every carried classification must find a pattern", func(t *testing.T) {
		// The entity carries PII and Confidential; a policy naming only PII
		// does not cover it.
		e, _ := newEvaluator(tagPolicy("pii-only", []string{"PII"}))
		assert.False(t, e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read").Allowed)

		e, _ = newEvaluator(tagPolicy("both", []string{"PII", "Confidential"}))
		assert.True(t, e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read").Allowed)
	})

	t.Run("star pattern still requires a classification", func(t *testing.T) {
		e, _ := newEvaluator(tagPolicy("any-tag", []string{"*"}))
		assert.True(t, e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read").Allowed)
	})
}

func TestEvaluator_AbacPoliciesComeFirst(t *testing.T) {
	criteria, _ := json.Marshal(map[string]interface{}{
		"entity": map[string]interface{}{
			"attributeName":  "certificateName",
			"operator":       model.OperatorEquals,
			"attributeValue": "VERIFIED",
		},
	})
	abac := &model.Policy{
		ID:               "abac-verified",
		PolicyType:       model.PolicyTypeAllow,
		ResourceCategory: model.ResourceCategoryABAC,
		FilterCriteria:   criteria,
		Actions:          []string{"entity-read"},
	}

	e, _ := newEvaluator(abac, allowPolicy("allow-all", map[string][]string{model.ResourceEntity: {"*"}}))

	decision := e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read")
	assert.True(t, decision.Allowed)
	assert.Equal(t, "abac-verified", decision.PolicyID)
}

func TestEvaluator_MalformedAbacCriteriaIsSkipped(t *testing.T) {
	abac := &model.Policy{
		ID:               "broken",
		PolicyType:       model.PolicyTypeDeny,
		ResourceCategory: model.ResourceCategoryABAC,
		FilterCriteria:   json.RawMessage(`{"entity": [not json`),
		Actions:          []string{"entity-read"},
	}

	e, _ := newEvaluator(abac, allowPolicy("allow-all", map[string][]string{model.ResourceEntity: {"*"}}))

	// The malformed deny policy never matches, so the allow policy decides.
	decision := e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read")
	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow-all", decision.PolicyID)
}

func TestEvaluator_SubjectScopingThroughRoles(t *testing.T) {
	scoped := allowPolicy("stewards-only", map[string][]string{model.ResourceEntity: {"*"}})
	scoped.Subjects = model.PolicySubjects{Roles: []string{"steward"}}

	e, snapshots := newEvaluator(scoped)
	snapshots.SetUserStore(&model.UserStore{
		ServiceName: "atlas",
		UserGroups:  map[string][]string{"jdoe": {"data-stewards"}},
	})
	snapshots.SetRoles(&model.Roles{
		ServiceName: "atlas",
		Roles:       []model.Role{{Name: "steward", Groups: []string{"data-stewards"}}},
	})

	assert.True(t, e.IsAccessAllowed(context.Background(), "jdoe", testEntity(), "entity-read").Allowed)
	assert.False(t, e.IsAccessAllowed(context.Background(), "outsider", testEntity(), "entity-read").Allowed)
}

// authz/compiler/query_compiler_test.go
package compiler_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdgokani/atlan-metastore-sub001/authz/compiler"
	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
)

func TestMain(m *testing.M) {
	logger.InitTestLogger()
	os.Exit(m.Run())
}

func storeWith(policies ...*model.Policy) *store.SnapshotStore {
	snapshots := store.NewSnapshotStore()
	snapshots.Publish(&model.PolicySnapshot{
		ServiceName:   "atlas",
		Policies:      policies,
		PolicyVersion: 1,
	})
	return snapshots
}

// collectClauseNames walks a compiled query and gathers every _name value.
func collectClauseNames(node interface{}) []string {
	var names []string
	switch v := node.(type) {
	case map[string]interface{}:
		for key, value := range v {
			if key == "_name" {
				names = append(names, value.(string))
				continue
			}
			names = append(names, collectClauseNames(value)...)
		}
	case []interface{}:
		for _, item := range v {
			names = append(names, collectClauseNames(item)...)
		}
	}
	return names
}

func TestEntityQuery_ClauseNaming(t *testing.T) {
	snapshots := storeWith(
		&model.Policy{ID: "p1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryEntity,
			Resources: map[string][]string{model.ResourceEntity: {"default/*"}},
			Actions:   []string{"entity-read"}},
		&model.Policy{ID: "p2", PolicyType: model.PolicyTypeDeny, ResourceCategory: model.ResourceCategoryEntity,
			Resources: map[string][]string{model.ResourceEntityType: {"Table"}},
			Actions:   []string{"entity-read"}},
		&model.Policy{ID: "p3", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryTag,
			Resources: map[string][]string{model.ResourceTag: {"PII"}},
			Actions:   []string{"entity-read"}},
	)
	c := compiler.NewCompiler(snapshots, 1024)

	compiled := c.EntityQuery("jdoe", []string{"entity-read"}, "guid-1")

	names := collectClauseNames(compiled)
	assert.ElementsMatch(t, []string{"p1", "p2_deny", "p3"}, names)

	// The query must be serializable as it stands.
	_, err := json.Marshal(compiled)
	require.NoError(t, err)
}

func TestEntityQuery_UserSubstitutionInPatterns(t *testing.T) {
	snapshots := storeWith(
		&model.Policy{ID: "own", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryEntity,
			Resources: map[string][]string{model.ResourceEntity: {"default/{USER}/*"}},
			Actions:   []string{"entity-read"}},
	)
	c := compiler.NewCompiler(snapshots, 1024)

	compiled := c.EntityQuery("jdoe", []string{"entity-read"}, "guid-1")

	data, err := json.Marshal(compiled)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default/jdoe/*")
	assert.NotContains(t, string(data), "{USER}")
}

func TestRelationshipQuery_PerEndClauses(t *testing.T) {
	criteria, _ := json.Marshal(map[string]interface{}{
		"endOneEntity": map[string]interface{}{
			"attributeName": "qualifiedName", "operator": model.OperatorStartsWith, "attributeValue": "default/",
		},
		"endTwoEntity": map[string]interface{}{
			"attributeName": "qualifiedName", "operator": model.OperatorEndsWith, "attributeValue": "/amount",
		},
	})
	snapshots := storeWith(
		&model.Policy{ID: "r1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryRelationship,
			Resources: map[string][]string{
				model.ResourceEndOneEntity: {"default/*"},
				model.ResourceEndTwoEntity: {"default/*"},
			},
			Actions: []string{"relationship-add"}},
		&model.Policy{ID: "r2", PolicyType: model.PolicyTypeDeny, ResourceCategory: model.ResourceCategoryRelationship,
			Resources: map[string][]string{model.ResourceEndOneClassification: {"PII"}},
			Actions:   []string{"relationship-add"}},
		&model.Policy{ID: "t1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryTag,
			Resources: map[string][]string{model.ResourceTag: {"PII"}},
			Actions:   []string{"relationship-add"}},
		&model.Policy{ID: "a1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryABAC,
			FilterCriteria: criteria,
			Actions:        []string{"relationship-add"}},
	)
	c := compiler.NewCompiler(snapshots, 1024)

	compiled := c.RelationshipQuery("jdoe", []string{"relationship-add"}, "guid-1", "guid-2")

	names := collectClauseNames(compiled)
	assert.ElementsMatch(t, []string{
		"end-one-r1", "end-two-r1",
		"end-one-r2_deny", "end-two-r2_deny",
		"tag-clause",
		"end-one-a1", "end-two-a1",
	}, names)
}

func TestListQuery_DenyClausesExclude(t *testing.T) {
	snapshots := storeWith(
		&model.Policy{ID: "p1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryEntity,
			Resources: map[string][]string{model.ResourceEntity: {"default/*"}},
			Actions:   []string{"entity-read"}},
		&model.Policy{ID: "p2", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryTag,
			Resources: map[string][]string{model.ResourceTag: {"Public"}},
			Actions:   []string{"entity-read"}},
		&model.Policy{ID: "p3", PolicyType: model.PolicyTypeDeny, ResourceCategory: model.ResourceCategoryEntity,
			Resources: map[string][]string{model.ResourceEntityType: {"Table"}},
			Actions:   []string{"entity-read"}},
	)
	c := compiler.NewCompiler(snapshots, 1024)

	compiled := c.ListQuery("jdoe", []string{"entity-read"})

	dsl := compiled["bool"].(map[string]interface{})
	filter := dsl["filter"].([]interface{})
	require.Len(t, filter, 1)
	assert.ElementsMatch(t, []string{"p1", "p2"}, collectClauseNames(filter))
	assert.ElementsMatch(t, []string{"p3_deny"}, collectClauseNames(dsl["must_not"]))
}

func TestListQuery_NoPoliciesMatchesNothing(t *testing.T) {
	c := compiler.NewCompiler(storeWith(), 1024)

	compiled := c.ListQuery("jdoe", []string{"entity-read"})

	data, err := json.Marshal(compiled["bool"].(map[string]interface{})["filter"])
	require.NoError(t, err)
	assert.JSONEq(t, `[{"bool":{"must_not":{"match_all":{}}}}]`, string(data))
}

func TestAbacClauseWrapsBase64Criteria(t *testing.T) {
	criteria, _ := json.Marshal(map[string]interface{}{
		"entity": map[string]interface{}{
			"attributeName": "certificateName", "operator": model.OperatorEquals, "attributeValue": "VERIFIED",
		},
	})
	snapshots := storeWith(
		&model.Policy{ID: "a1", PolicyType: model.PolicyTypeAllow, ResourceCategory: model.ResourceCategoryABAC,
			FilterCriteria: criteria,
			Actions:        []string{"entity-read"}},
	)
	c := compiler.NewCompiler(snapshots, 1024)

	compiled := c.EntityQuery("jdoe", []string{"entity-read"}, "guid-1")
	data, err := json.Marshal(compiled)
	require.NoError(t, err)

	var parsed struct {
		Query struct {
			Bool struct {
				Filter []json.RawMessage `json:"filter"`
			} `json:"bool"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed.Query.Bool.Filter, 2)

	// Find the wrapper's base64 payload and check it decodes to a term query.
	var wrapperPayload string
	var walk func(node interface{})
	walk = func(node interface{}) {
		switch v := node.(type) {
		case map[string]interface{}:
			if wrapper, ok := v["wrapper"].(map[string]interface{}); ok {
				wrapperPayload = wrapper["query"].(string)
				return
			}
			for _, value := range v {
				walk(value)
			}
		case []interface{}:
			for _, item := range v {
				walk(item)
			}
		}
	}
	var full map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &full))
	walk(full)
	require.NotEmpty(t, wrapperPayload)

	decoded, err := base64.StdEncoding.DecodeString(wrapperPayload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"term":{"certificateName":"VERIFIED"}}`, string(decoded))
}

func TestCombineClauses_PartitioningPreservesClauseCount(t *testing.T) {
	const limit = 16
	count := 2*limit + 1

	clauses := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"__guid": fmt.Sprintf("guid-%d", i)},
		})
	}

	combined := compiler.CombineClauses(clauses, limit)

	groups := combined["bool"].(map[string]interface{})["should"].([]interface{})
	require.Len(t, groups, 3) // ceil(33/16)

	total := 0
	for _, group := range groups {
		inner := group.(map[string]interface{})["bool"].(map[string]interface{})
		assert.Equal(t, 1, inner["minimum_should_match"])
		total += len(inner["should"].([]interface{}))
	}
	assert.Equal(t, count, total)
}

func TestCombineClauses_UnderLimitStaysFlat(t *testing.T) {
	clauses := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"__guid": "guid-1"}},
	}

	combined := compiler.CombineClauses(clauses, 16)

	should := combined["bool"].(map[string]interface{})["should"].([]interface{})
	assert.Len(t, should, 1)
}

func TestCombineClauses_EmptyMatchesNothing(t *testing.T) {
	combined := compiler.CombineClauses(nil, 16)

	data, err := json.Marshal(combined)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool":{"must_not":{"match_all":{}}}}`, string(data))
}

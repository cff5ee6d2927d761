// model/entity_test.go
package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdgokani/atlan-metastore-sub001/model"
)

func TestEntity_UnmarshalCoercesAttributeBag(t *testing.T) {
	payload := `{
		"guid": "guid-1",
		"typeName": "Table",
		"attributes": {
			"qualifiedName": "default/db/sales",
			"ownerUsers": ["jdoe", "asmith"],
			"isPartition": true,
			"rowCount": 1200,
			"description": null
		},
		"classifications": [
			{"typeName": "PII", "entityId": "guid-1"},
			{"typeName": "Confidential", "entityId": "upstream"}
		]
	}`

	var entity model.Entity
	require.NoError(t, json.Unmarshal([]byte(payload), &entity))

	assert.Equal(t, "guid-1", entity.ID)
	assert.Equal(t, "Table", entity.TypeName)
	assert.Equal(t, "default/db/sales", entity.QualifiedName())
	assert.Equal(t, []string{"jdoe", "asmith"}, entity.Attribute("ownerUsers").Strings())
	assert.Equal(t, []string{"true"}, entity.Attribute("isPartition").Strings())
	assert.Equal(t, []string{"1200"}, entity.Attribute("rowCount").Strings())
	assert.True(t, entity.Attribute("description").IsAbsent())
	assert.True(t, entity.Attribute("never-set").IsAbsent())

	assert.Equal(t, []string{"PII"}, entity.DirectTraitNames())
	assert.Equal(t, []string{"Confidential"}, entity.PropagatedTraitNames())
}

func TestAttributeValue_Strings(t *testing.T) {
	assert.Equal(t, []string{"x"}, model.StringValue("x").Strings())
	assert.Equal(t, []string{"a", "b"}, model.StringListValue("a", "b").Strings())
	assert.Equal(t, []string{"false"}, model.BoolValue(false).Strings())
	assert.Equal(t, []string{"3.5"}, model.NumberValue(3.5).Strings())
	assert.Nil(t, model.AbsentValue().Strings())
}

func TestParseFilterCriteria(t *testing.T) {
	raw := json.RawMessage(`{
		"entity": {
			"condition": "AND",
			"criterion": [
				{"attributeName": "certificateName", "operator": "EQUALS", "attributeValue": "VERIFIED"}
			]
		}
	}`)

	criteria, err := model.ParseFilterCriteria(raw)
	require.NoError(t, err)
	require.NotNil(t, criteria.Entity)
	assert.True(t, criteria.Entity.IsBranch())
	require.Len(t, criteria.Entity.Criterion, 1)
	assert.False(t, criteria.Entity.Criterion[0].IsBranch())

	_, err = model.ParseFilterCriteria(json.RawMessage(`{"entity": [`))
	assert.Error(t, err)

	_, err = model.ParseFilterCriteria(nil)
	assert.Error(t, err)
}

func TestPolicy_HasAnyAction(t *testing.T) {
	policy := &model.Policy{Actions: []string{"entity-read", "entity-update"}}

	assert.True(t, policy.HasAnyAction([]string{"entity-read"}))
	assert.True(t, policy.HasAnyAction([]string{"entity-delete", "entity-update"}))
	assert.False(t, policy.HasAnyAction([]string{"entity-delete"}))
	assert.False(t, policy.HasAnyAction(nil))
}

// model/policy.go
package model

import (
	"encoding/json"
	"fmt"
)

// PolicyType distinguishes policies that grant access from policies that
// revoke it. Deny always wins over allow during evaluation.
type PolicyType string

const (
	PolicyTypeAllow PolicyType = "allow"
	PolicyTypeDeny  PolicyType = "deny"
)

// ResourceCategory partitions policies by the shape of resource they govern.
type ResourceCategory string

const (
	ResourceCategoryEntity       ResourceCategory = "ENTITY"
	ResourceCategoryRelationship ResourceCategory = "RELATIONSHIP"
	ResourceCategoryTag          ResourceCategory = "TAG"
	ResourceCategoryABAC         ResourceCategory = "ABAC"
)

// Resource-kind names recognized in Policy.Resources.
const (
	ResourceEntityType           = "entity-type"
	ResourceEntity               = "entity"
	ResourceEntityBM             = "entity-business-metadata"
	ResourceTag                  = "tag"
	ResourceRelationshipType     = "relationship-type"
	ResourceEndOneEntity         = "end-one-entity"
	ResourceEndOneEntityType     = "end-one-entity-type"
	ResourceEndOneClassification = "end-one-entity-classification"
	ResourceEndTwoEntity         = "end-two-entity"
	ResourceEndTwoEntityType     = "end-two-entity-type"
	ResourceEndTwoClassification = "end-two-entity-classification"
)

// PolicySubjects names the principals a policy applies to. An empty subject
// set means the policy applies to every principal.
type PolicySubjects struct {
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// IsEmpty reports whether no subject constraint is present.
func (ps PolicySubjects) IsEmpty() bool {
	return len(ps.Users) == 0 && len(ps.Groups) == 0 && len(ps.Roles) == 0
}

// Policy is one declarative access-control rule as delivered by the
// policy-admin service. Resources maps a resource-kind name to an ordered
// list of patterns; "*" matches anything and "{USER}" is substituted with the
// requesting principal's name at evaluation time. ABAC policies carry
// FilterCriteria instead of resources.
type Policy struct {
	ID               string              `json:"id"`
	Name             string              `json:"name,omitempty"`
	PolicyType       PolicyType          `json:"policyType"`
	ResourceCategory ResourceCategory    `json:"resourceCategory"`
	Resources        map[string][]string `json:"resources,omitempty"`
	FilterCriteria   json.RawMessage     `json:"filterCriteria,omitempty"`
	Actions          []string            `json:"actions"`
	Subjects         PolicySubjects      `json:"subjects,omitempty"`
	Labels           []string            `json:"labels,omitempty"`
}

// HasAnyAction reports whether the policy covers any of the given actions.
func (p *Policy) HasAnyAction(actions []string) bool {
	for _, a := range p.Actions {
		for _, want := range actions {
			if a == want {
				return true
			}
		}
	}
	return false
}

// FilterCriteria is one node of an ABAC condition tree: either a branch
// (Condition + Criterion) or a leaf (AttributeName + Operator +
// AttributeValue). A node with a non-empty Condition is a branch.
type FilterCriteria struct {
	Condition      string           `json:"condition,omitempty"`
	Criterion      []FilterCriteria `json:"criterion,omitempty"`
	AttributeName  string           `json:"attributeName,omitempty"`
	Operator       string           `json:"operator,omitempty"`
	AttributeValue string           `json:"attributeValue,omitempty"`
}

// IsBranch reports whether the node is an AND/OR branch rather than a leaf.
func (fc *FilterCriteria) IsBranch() bool {
	return fc.Condition != ""
}

// Branch conditions and leaf operators of a FilterCriteria tree.
const (
	ConditionAnd = "AND"
	ConditionOr  = "OR"

	OperatorEquals     = "EQUALS"
	OperatorNotEquals  = "NOT_EQUALS"
	OperatorStartsWith = "STARTS_WITH"
	OperatorEndsWith   = "ENDS_WITH"
	OperatorLike       = "LIKE"
)

// PolicyFilterCriteria is the top-level shape of a policy's filterCriteria
// document: a single tree for entity policies, or one tree per relationship
// end for relationship policies.
type PolicyFilterCriteria struct {
	Entity       *FilterCriteria `json:"entity,omitempty"`
	EndOneEntity *FilterCriteria `json:"endOneEntity,omitempty"`
	EndTwoEntity *FilterCriteria `json:"endTwoEntity,omitempty"`
}

// ParseFilterCriteria decodes a policy's raw filterCriteria document.
// Malformed criteria are an authoring error on a single policy, never a
// refresh failure, so callers treat an error as "policy does not match".
func ParseFilterCriteria(raw json.RawMessage) (*PolicyFilterCriteria, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty filter criteria")
	}

	var criteria PolicyFilterCriteria
	if err := json.Unmarshal(raw, &criteria); err != nil {
		return nil, fmt.Errorf("failed to parse filter criteria: %w", err)
	}
	return &criteria, nil
}

// PolicySnapshot is an immutable, versioned copy of the full policy set for
// one managed service. It is replaced as a whole on every successful refresh
// and never mutated afterwards.
type PolicySnapshot struct {
	ServiceName      string    `json:"serviceName"`
	Policies         []*Policy `json:"policies"`
	PolicyVersion    int64     `json:"policyVersion"`
	PolicyUpdateTime int64     `json:"policyUpdateTime"` // epoch millis
}

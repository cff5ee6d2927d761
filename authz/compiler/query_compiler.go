// authz/compiler/query_compiler.go
package compiler

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/hdgokani/atlan-metastore-sub001/authz/store"
	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
	"go.uber.org/zap"
)

const (
	// denySuffix distinguishes deny-policy clauses in matched-clause names.
	denySuffix = "_deny"

	// tagClauseName is the shared clause name for tag policies in
	// relationship queries; it is recorded verbatim, never end-prefixed.
	tagClauseName = "tag-clause"

	endOnePrefix = "end-one-"
	endTwoPrefix = "end-two-"

	qualifiedNameField        = "qualifiedName"
	typeNameKeywordField      = "__typeName.keyword"
	traitNamesField           = "__traitNames"
	propagatedTraitNamesField = "__propagatedTraitNames"
	guidField                 = "__guid"
)

// Compiler turns the current policy snapshot into a single Elasticsearch
// boolean query with one named clause per policy (per end, for relationship
// policies), so a decision can later be reconstructed from which clause
// names matched. It is the bulk-path counterpart to the in-memory evaluator.
type Compiler struct {
	store          *store.SnapshotStore
	maxClauseLimit int
}

func NewCompiler(snapshots *store.SnapshotStore, maxClauseLimit int) *Compiler {
	if maxClauseLimit <= 0 {
		maxClauseLimit = 1024
	}
	return &Compiler{store: snapshots, maxClauseLimit: maxClauseLimit}
}

// EntityQuery compiles every entity-scoped policy relevant to the user and
// actions, filtered down to the single candidate document.
func (c *Compiler) EntityQuery(user string, actions []string, guid string) query {
	principal := c.store.ResolvePrincipal(user)
	clauses := c.compileEntityClauses(principal, actions)

	return query{
		"query": query{"bool": query{"filter": []interface{}{
			query{"term": query{guidField: guid}},
			CombineClauses(clauses, c.maxClauseLimit),
		}}},
		"size": 1,
	}
}

// ListQuery compiles the unrestricted "which documents may this user act on"
// filter, with no document-id constraint. Callers embed it in bulk listing
// searches so inaccessible entities never leave the index.
func (c *Compiler) ListQuery(user string, actions []string) query {
	principal := c.store.ResolvePrincipal(user)
	allow := c.compileEntityClausesOfType(principal, actions, model.PolicyTypeAllow)
	deny := c.compileEntityClausesOfType(principal, actions, model.PolicyTypeDeny)

	dsl := query{"filter": []interface{}{CombineClauses(allow, c.maxClauseLimit)}}
	if len(deny) > 0 {
		dsl["must_not"] = CombineClauses(deny, c.maxClauseLimit)
	}
	return query{"bool": dsl}
}

// RelationshipQuery compiles every relationship-scoped policy relevant to
// the user and actions, filtered to the two candidate end documents. Each
// policy contributes one clause per end so the correlator can intersect the
// per-document matches.
func (c *Compiler) RelationshipQuery(user string, actions []string, endOneGuid, endTwoGuid string) query {
	principal := c.store.ResolvePrincipal(user)
	clauses := c.compileRelationshipClauses(principal, actions)

	return query{
		"query": query{"bool": query{"filter": []interface{}{
			query{"terms": query{guidField: []string{endOneGuid, endTwoGuid}}},
			CombineClauses(clauses, c.maxClauseLimit),
		}}},
		"size": 2,
	}
}

func (c *Compiler) compileEntityClauses(principal store.Principal, actions []string) []interface{} {
	return c.compileEntityClausesOfType(principal, actions, "")
}

func (c *Compiler) compileEntityClausesOfType(principal store.Principal, actions []string, policyType model.PolicyType) []interface{} {
	var clauses []interface{}

	for _, policy := range c.store.RelevantPolicies(principal, model.ResourceCategoryEntity, actions, policyType) {
		dsl := resourcesToQuery(policy.Resources, principal.Name, entityResourceField)
		if dsl == nil {
			continue
		}
		clauses = append(clauses, named(dsl, clauseName(policy)))
	}

	for _, policy := range c.store.RelevantPolicies(principal, model.ResourceCategoryTag, actions, policyType) {
		patterns, ok := policy.Resources[model.ResourceTag]
		if !ok {
			continue
		}
		clauses = append(clauses, named(tagQuery(patterns), clauseName(policy)))
	}

	for _, policy := range c.store.RelevantPolicies(principal, model.ResourceCategoryABAC, actions, policyType) {
		criteria, err := model.ParseFilterCriteria(policy.FilterCriteria)
		if err != nil || criteria.Entity == nil {
			logger.Warn("Skipping ABAC policy during query compilation",
				zap.String("policyId", policy.ID), zap.Error(err))
			continue
		}
		clauses = append(clauses, named(wrapperQuery(criteriaToQuery(criteria.Entity)), clauseName(policy)))
	}

	return clauses
}

func (c *Compiler) compileRelationshipClauses(principal store.Principal, actions []string) []interface{} {
	var clauses []interface{}

	for _, policy := range c.store.RelevantPolicies(principal, model.ResourceCategoryRelationship, actions, "") {
		endOne := resourcesToQuery(policy.Resources, principal.Name, endOneResourceField)
		endTwo := resourcesToQuery(policy.Resources, principal.Name, endTwoResourceField)
		if endOne == nil || endTwo == nil {
			continue
		}
		clauses = append(clauses,
			named(endOne, endOnePrefix+clauseName(policy)),
			named(endTwo, endTwoPrefix+clauseName(policy)))
	}

	for _, policy := range c.store.RelevantPolicies(principal, model.ResourceCategoryTag, actions, "") {
		patterns, ok := policy.Resources[model.ResourceTag]
		if !ok {
			continue
		}
		clauses = append(clauses, named(tagQuery(patterns), tagClauseName))
	}

	for _, policy := range c.store.RelevantPolicies(principal, model.ResourceCategoryABAC, actions, "") {
		criteria, err := model.ParseFilterCriteria(policy.FilterCriteria)
		if err != nil || criteria.EndOneEntity == nil || criteria.EndTwoEntity == nil {
			logger.Warn("Skipping ABAC policy during relationship query compilation",
				zap.String("policyId", policy.ID), zap.Error(err))
			continue
		}
		clauses = append(clauses,
			named(wrapperQuery(criteriaToQuery(criteria.EndOneEntity)), endOnePrefix+clauseName(policy)),
			named(wrapperQuery(criteriaToQuery(criteria.EndTwoEntity)), endTwoPrefix+clauseName(policy)))
	}

	return clauses
}

// clauseName is the policy id plus the deny suffix for deny policies; it is
// what comes back in matched_queries and what correlation decides on.
func clauseName(policy *model.Policy) string {
	if policy.PolicyType == model.PolicyTypeDeny {
		return policy.ID + denySuffix
	}
	return policy.ID
}

// entityResourceField maps entity-policy resource kinds to index fields.
func entityResourceField(kind string) (string, bool) {
	switch kind {
	case model.ResourceEntity, model.ResourceEntityBM:
		return qualifiedNameField, true
	case model.ResourceEntityType:
		return typeNameKeywordField, true
	default:
		return "", false
	}
}

func endOneResourceField(kind string) (string, bool) {
	switch kind {
	case model.ResourceEndOneEntity:
		return qualifiedNameField, true
	case model.ResourceEndOneEntityType:
		return typeNameKeywordField, true
	case model.ResourceEndOneClassification:
		return traitNamesField, true
	default:
		return "", false
	}
}

func endTwoResourceField(kind string) (string, bool) {
	switch kind {
	case model.ResourceEndTwoEntity:
		return qualifiedNameField, true
	case model.ResourceEndTwoEntityType:
		return typeNameKeywordField, true
	case model.ResourceEndTwoClassification:
		return traitNamesField, true
	default:
		return "", false
	}
}

// resourcesToQuery compiles a policy's resource map into one bool query.
// Resource kinds the field mapper does not recognize are skipped; a kind
// whose patterns include "*" constrains nothing and is skipped too. A policy
// whose every kind is skipped compiles to match-all (the wildcard policy).
func resourcesToQuery(resources map[string][]string, user string, fieldOf func(string) (string, bool)) query {
	var filters []interface{}

	for kind, patterns := range resources {
		field, ok := fieldOf(kind)
		if !ok {
			continue
		}
		if containsPattern(patterns, "*") {
			continue
		}
		filters = append(filters, patternsQuery(field, patterns, user))
	}

	if len(filters) == 0 {
		return query{"match_all": query{}}
	}
	return query{"bool": query{"filter": filters}}
}

// patternsQuery matches a document field against any of the patterns: exact
// values become terms, wildcard patterns become wildcard clauses.
func patternsQuery(field string, patterns []string, user string) query {
	var exact []string
	var should []interface{}

	for _, pattern := range patterns {
		resolved := strings.ReplaceAll(pattern, "{USER}", user)
		if strings.Contains(resolved, "*") {
			should = append(should, query{"wildcard": query{field: resolved}})
		} else {
			exact = append(exact, resolved)
		}
	}

	if len(exact) > 0 {
		should = append(should, query{"terms": query{field: exact}})
	}
	if len(should) == 1 {
		return should[0].(query)
	}
	return query{"bool": query{
		"should":               should,
		"minimum_should_match": 1,
	}}
}

// tagQuery matches direct and propagated classification names against the
// policy's tag patterns.
func tagQuery(patterns []string) query {
	return query{"bool": query{
		"should": []interface{}{
			query{"terms": query{traitNamesField: patterns}},
			query{"terms": query{propagatedTraitNamesField: patterns}},
		},
		"minimum_should_match": 1,
	}}
}

// wrapperQuery base64-embeds a compiled sub-query where the engine requires
// opaque wrapped queries.
func wrapperQuery(dsl query) query {
	encoded, err := json.Marshal(dsl)
	if err != nil {
		logger.Warn("Failed to encode wrapped criteria query", zap.Error(err))
		return matchNothing()
	}
	return query{"wrapper": query{
		"query": base64.StdEncoding.EncodeToString(encoded),
	}}
}

// named attaches a clause name so matched_queries reports it.
func named(dsl query, name string) query {
	return query{"bool": query{
		"filter": []interface{}{dsl},
		"_name":  name,
	}}
}

// CombineClauses ORs the per-policy clauses together, partitioning them into
// nested should groups when their number exceeds the engine's boolean clause
// limit. An empty clause list compiles to a match-nothing query so that "no
// relevant policies" stays a deny.
func CombineClauses(clauses []interface{}, limit int) query {
	if len(clauses) == 0 {
		return matchNothing()
	}
	if len(clauses) <= limit {
		return query{"bool": query{
			"should":               clauses,
			"minimum_should_match": 1,
		}}
	}

	var groups []interface{}
	for start := 0; start < len(clauses); start += limit {
		end := start + limit
		if end > len(clauses) {
			end = len(clauses)
		}
		groups = append(groups, query{"bool": query{
			"should":               clauses[start:end],
			"minimum_should_match": 1,
		}})
	}
	return query{"bool": query{
		"should":               groups,
		"minimum_should_match": 1,
	}}
}

func containsPattern(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if pattern == value {
			return true
		}
	}
	return false
}

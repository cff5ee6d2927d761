// authz/engine/common.go
package engine

import (
	"regexp"
	"strings"
	"sync"

	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"go.uber.org/zap"
)

const userPlaceholder = "{USER}"

// TypeRegistry answers supertype queries for entity type names. The evaluator
// matches type resources against the full supertype closure, so "Asset"
// policies cover every concrete asset subtype.
type TypeRegistry interface {
	SupertypesOf(typeName string) []string
}

// TypeAndSupertypes returns the type itself plus its supertype closure. An
// unknown type still matches itself.
func TypeAndSupertypes(registry TypeRegistry, typeName string) []string {
	if typeName == "" {
		return nil
	}
	out := []string{typeName}
	if registry != nil {
		out = append(out, registry.SupertypesOf(typeName)...)
	}
	return out
}

var (
	patternMu    sync.RWMutex
	patternCache = map[string]*regexp.Regexp{}
)

// wildcardMatch matches value against a policy resource pattern where '*'
// spans any run of characters and every other character is literal. Compiled
// patterns are cached; policy resources repeat heavily across requests.
func wildcardMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	patternMu.RLock()
	re, ok := patternCache[pattern]
	patternMu.RUnlock()

	if !ok {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			logger.Warn("Unusable wildcard pattern in policy resource",
				zap.String("pattern", pattern), zap.Error(err))
			return false
		}
		patternMu.Lock()
		patternCache[pattern] = re
		patternMu.Unlock()
	}

	return re.MatchString(value)
}

// substituteUser replaces the {USER} placeholder with the requesting user.
func substituteUser(pattern, user string) string {
	if !strings.Contains(pattern, userPlaceholder) {
		return pattern
	}
	return strings.ReplaceAll(pattern, userPlaceholder, user)
}

// anyWildcardMatch reports whether any of the patterns, after {USER}
// substitution, matches any of the values.
func anyWildcardMatch(patterns, values []string, user string) bool {
	for _, pattern := range patterns {
		resolved := substituteUser(pattern, user)
		for _, value := range values {
			if wildcardMatch(resolved, value) {
				return true
			}
		}
	}
	return false
}

// containsAny reports whether any needle appears in haystack verbatim.
func containsAny(haystack, needles []string) bool {
	for _, needle := range needles {
		for _, item := range haystack {
			if item == needle {
				return true
			}
		}
	}
	return false
}

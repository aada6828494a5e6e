package validation

import (
	"regexp"
	"strings"
)

// MatchWildcardClaim implements the wildcard-claim matching rules used by
// the (out-of-scope, spec §1) auth layer for service-account claims, tested
// directly here per spec §8:
//
//	"app*"      matches "app-mr/6" and "app", not "webapp"
//	"*-prod"    matches "api-prod", not "prod" or "production"
//	"app-*-prod" matches "app-staging-prod", not "app-prod"
//
// A single '*' is a greedy wildcard; every other character is matched
// literally, and the match is anchored over the full claim value.
func MatchWildcardClaim(pattern, claim string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == claim
	}
	parts := strings.Split(pattern, "*")
	var sb strings.Builder
	sb.WriteString("^")
	for i, p := range parts {
		if i > 0 {
			sb.WriteString(".*")
		}
		sb.WriteString(regexp.QuoteMeta(p))
	}
	sb.WriteString("$")
	re := regexp.MustCompile(sb.String())
	return re.MatchString(claim)
}

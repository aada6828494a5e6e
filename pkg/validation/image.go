package validation

import "strings"

// NormalizeImage rewrites a bare image reference into its fully-qualified
// Docker Hub form, matching spec §8:
//
//	"nginx"          -> "docker.io/library/nginx"
//	"myorg/app:v1"   -> "docker.io/myorg/app:v1"
//	"quay.io/foo:1"  -> "quay.io/foo:1" (already has an explicit registry host)
func NormalizeImage(ref string) string {
	firstSegment := ref
	if i := strings.Index(ref, "/"); i >= 0 {
		firstSegment = ref[:i]
	}
	if hasRegistryHost(firstSegment) {
		return ref
	}
	if !strings.Contains(ref, "/") {
		return "docker.io/library/" + ref
	}
	return "docker.io/" + ref
}

// hasRegistryHost reports whether segment looks like a registry hostname
// rather than a Docker Hub namespace: it contains a '.' or ':' (a port), or
// is the literal "localhost".
func hasRegistryHost(segment string) bool {
	return segment == "localhost" || strings.ContainsAny(segment, ".:")
}

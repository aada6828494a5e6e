package kubernetes

import (
	"regexp"
	"strings"
)

const (
	LabelManagedBy      = "rise.dev/managed-by"
	LabelProject        = "rise.dev/project"
	LabelDeploymentGroup = "rise.dev/deployment-group"
	LabelDeploymentID   = "rise.dev/deployment-id"

	managedByValue = "rise"

	pullSecretName        = "rise-registry-creds"
	namespaceFinalizer     = "kubernetes.rise.dev/namespace"
	lastRefreshAnnotation = "rise.dev/last-refresh"
)

var invalidLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)

// sanitizeLabel replaces runs of invalid characters with "--" and trims
// leading/trailing "-" (spec §4.5: "all labels sanitized").
func sanitizeLabel(s string) string {
	lowered := strings.ToLower(s)
	replaced := invalidLabelChars.ReplaceAllString(lowered, "--")
	return strings.Trim(replaced, "-")
}

func namespaceName(format, project string) string {
	return strings.ReplaceAll(format, "{project}", sanitizeLabel(project))
}

// groupResourceName returns the name shared by the Service/Ingress for a
// deployment group: "default" for the default group, else the sanitized
// group name (spec §4.5).
func groupResourceName(group string) string {
	if group == "" || group == "default" {
		return "default"
	}
	return sanitizeLabel(group)
}

func replicaSetName(project, deploymentID string) string {
	return sanitizeLabel(project) + "-" + sanitizeLabel(deploymentID)
}

func labelsFor(project, group, deploymentID string) map[string]string {
	return map[string]string{
		LabelManagedBy:       managedByValue,
		LabelProject:         sanitizeLabel(project),
		LabelDeploymentGroup: groupResourceName(group),
		LabelDeploymentID:    sanitizeLabel(deploymentID),
	}
}

package validation

import (
	"regexp"

	"github.com/risedev/deployctl/pkg/deployerr"
)

// groupNamePattern matches spec §8's boundary table: lowercase alphanumerics,
// '-', '/' allowed, never uppercase, never empty, max 100 chars.
var groupNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9/-]{0,99}$`)

// ValidateGroup checks a deployment-group tag per spec §8:
// "default" ✓; "mr/6" ✓; "" ✗; "MR-6" ✗; "-foo" ✗; 101-char string ✗.
func ValidateGroup(name string) error {
	if name == "" {
		return deployerr.New(deployerr.KindBadRequest, "deployment group must not be empty")
	}
	if len(name) > 100 {
		return deployerr.New(deployerr.KindBadRequest, "deployment group must be at most 100 characters")
	}
	if !groupNamePattern.MatchString(name) {
		return deployerr.New(deployerr.KindBadRequest, "deployment group must be lowercase alphanumeric, '-' or '/', starting with an alphanumeric")
	}
	return nil
}

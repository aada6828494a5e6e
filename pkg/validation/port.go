package validation

import (
	"fmt"

	"github.com/risedev/deployctl/pkg/deployerr"
)

// ValidatePort checks an HTTP port is in the 1-65535 range (spec §3, §8:
// "0 rejected; 65535 accepted").
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return deployerr.New(deployerr.KindBadRequest, fmt.Sprintf("port %d out of range 1-65535", port))
	}
	return nil
}

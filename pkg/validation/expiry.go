package validation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/risedev/deployctl/pkg/deployerr"
)

// expiryUnits maps the accepted suffix characters to a duration-per-unit,
// per spec §8: "7d", "2h", "30m" accepted; "0d" rejected; "7x" rejected.
var expiryUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
}

// ParseExpiry parses a duration string of the form "<positive integer><d|h|m>"
// into the duration from now it represents. A zero magnitude or unknown unit
// is rejected.
func ParseExpiry(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, deployerr.New(deployerr.KindBadRequest, fmt.Sprintf("invalid expiry %q", s))
	}
	unit, ok := expiryUnits[s[len(s)-1]]
	if !ok {
		return 0, deployerr.New(deployerr.KindBadRequest, fmt.Sprintf("invalid expiry unit in %q, want one of d/h/m", s))
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, deployerr.New(deployerr.KindBadRequest, fmt.Sprintf("invalid expiry magnitude in %q", s))
	}
	return time.Duration(n) * unit, nil
}

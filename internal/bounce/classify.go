// Package bounce classifies delivery failures into hard and soft bounces.
package bounce

import (
	"errors"
	"strings"

	"github.com/mailkite/mailkite/internal/transport"
)

// hardBounceCodes are the permanent reply codes that indicate the mailbox
// itself rejected the message.
var hardBounceCodes = []string{"550", "551", "552", "553", "554"}

// IsHardBounce reports whether a delivery error is a hard bounce: a
// permanent rejection of the recipient address. Hard bounces put the
// contact out of circulation; soft failures are left to the retry policy.
func IsHardBounce(err error) bool {
	if err == nil {
		return false
	}

	var de *transport.DeliveryError
	if errors.As(err, &de) && de.Code >= 550 && de.Code <= 554 {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "bounce") {
		return true
	}
	for _, code := range hardBounceCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

package bounce

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mailkite/mailkite/internal/transport"
)

func TestIsHardBounce(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"user unknown 550", fmt.Errorf("550 5.1.1 user unknown"), true},
		{"mailbox full 552", fmt.Errorf("552 mailbox over quota"), true},
		{"relay denied 554", fmt.Errorf("554 relay access denied"), true},
		{"bounce keyword", errors.New("message bounced by remote host"), true},
		{"greylist 450", fmt.Errorf("450 try again later"), false},
		{"connection error", errors.New("connection refused"), false},
		{"timeout", errors.New("i/o timeout"), false},
		{
			"classified permanent 553",
			&transport.DeliveryError{Temporary: false, Code: 553, Message: "553 invalid address"},
			true,
		},
		{
			"classified temporary 451",
			&transport.DeliveryError{Temporary: true, Code: 451, Message: "451 local error"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHardBounce(tt.err); got != tt.want {
				t.Errorf("IsHardBounce(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

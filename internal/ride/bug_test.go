package ride

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAgentDoneBug(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"model message", errors.New("failed to convert to a ModelMessage"), true},
		{"ui message", fmt.Errorf("run ended: %w", errors.New("unexpected UIMessage part")), true},
		{"unrelated", errors.New("chrome crashed"), false},
		{"step limit", errors.New("browser agent hit the 25-step limit before finishing"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isAgentDoneBug(tc.err); got != tc.want {
				t.Fatalf("isAgentDoneBug(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

package payment

import "testing"

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		valid    bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusRefunded, true},
		{StatusPending, StatusRefunded, false},
		{StatusFailed, StatusRefunded, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusRefunded, StatusRefunded, false},
		{StatusCompleted, StatusCompleted, false},
	}

	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.valid {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.valid)
		}
	}
}

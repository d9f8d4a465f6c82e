package steam

import (
	"testing"

	logx "steamwatch/pkg/logx"
)

func TestPermitted(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		mode     PermissionMode
		groups   []string
		identity string
		want     bool
	}{
		{"whitelist member", ModeWhitelist, []string{"123", "456"}, "123", true},
		{"whitelist non-member", ModeWhitelist, []string{"123"}, "789", false},
		{"whitelist empty denies all", ModeWhitelist, nil, "123", false},
		{"whitelist blank entries only denies all", ModeWhitelist, []string{" ", ""}, "123", false},
		{"whitelist untrimmed identity", ModeWhitelist, []string{"123"}, "123 ", true},
		{"whitelist untrimmed config entry", ModeWhitelist, []string{" 123 "}, "123", true},
		{"blacklist member denied", ModeBlacklist, []string{"123"}, "123", false},
		{"blacklist non-member permitted", ModeBlacklist, []string{"123"}, "456", true},
		{"blacklist empty permits all", ModeBlacklist, nil, "123", true},
		{"unset mode behaves as whitelist", "", []string{"123"}, "123", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			perm := PermissionConfig{Mode: tc.mode, Groups: tc.groups}
			if got := permitted(perm, tc.identity, logx.Nop()); got != tc.want {
				t.Fatalf("permitted(%v, %v, %q) = %v, want %v",
					tc.mode, tc.groups, tc.identity, got, tc.want)
			}
		})
	}
}

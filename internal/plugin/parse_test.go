package plugin

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"steamstatus", []string{"steamstatus"}},
		{"steam history 5", []string{"steam", "history", "5"}},
		{`run "a b" c`, []string{"run", "a b", "c"}},
		{`run 'a b'`, []string{"run", "a b"}},
		{`run a\ b`, []string{"run", "a b"}},
		{"run\t x\n", []string{"run", "x"}},
	}
	for _, tc := range cases {
		if got := tokenizeCommandLine(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	pos, flags, bools := parseFlags([]string{"5", "--limit=10", "--verbose", "-n", "3", "-ab"})
	if !reflect.DeepEqual(pos, []string{"5"}) {
		t.Fatalf("positionals = %v", pos)
	}
	if flags["limit"] != "10" || flags["n"] != "3" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["verbose"] || !bools["a"] || !bools["b"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestNewReqID(t *testing.T) {
	t.Parallel()

	a, b := newReqID(), newReqID()
	if len(a) != 8 || a == b {
		t.Fatalf("req ids should be short and unique: %q %q", a, b)
	}
}

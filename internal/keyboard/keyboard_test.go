package keyboard

import "testing"

func TestParseKey(t *testing.T) {
	cases := []struct {
		in   string
		want Key
		ok   bool
	}{
		{"", KeyTab, true},
		{"Tab", KeyTab, true},
		{" enter ", KeyEnter, true},
		{"return", KeyEnter, true},
		{"ESC", KeyEscape, true},
		{"space", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseKey(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.in, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("ParseKey(%q): expected error", tc.in)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("ParseKey(%q) = %s want %s", tc.in, got, tc.want)
		}
	}
}

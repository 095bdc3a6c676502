package slack

import "testing"

func TestStripMention(t *testing.T) {
	tests := map[string]string{
		"<@U12345> /build tok a bot": "/build tok a bot",
		"  <@U12345>   status  ":     "status",
		"<@U12345>":                  "",
		"status":                     "status",
		"a <@U1> b":                  "a <@U1> b",
	}
	for in, want := range tests {
		if got := stripMention(in); got != want {
			t.Fatalf("stripMention(%q) = %q, want %q", in, got, want)
		}
	}
}

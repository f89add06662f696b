package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseSessionID checks parsing never panics and valid ids round-trip.
func FuzzParseSessionID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSessionID(input)
		if err == nil {
			roundTrip, err2 := ParseSessionID(id.String())
			if err2 != nil {
				t.Errorf("valid id failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed id value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseGroupID checks accepted group ids are always safe path segments.
func FuzzParseGroupID(f *testing.F) {
	f.Add("G1")
	f.Add("../etc")
	f.Add("a b")

	f.Fuzz(func(t *testing.T, input string) {
		g, err := ParseGroupID(input)
		if err != nil {
			return
		}
		for _, r := range string(g) {
			if r == '/' || r == '?' || r == '&' || r == '#' || r == ' ' {
				t.Errorf("accepted unsafe rune %q in %q", r, input)
			}
		}
	})
}

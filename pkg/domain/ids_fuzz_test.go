//go:build go1.18

package domain

import (
	"testing"
)

// FuzzParseIdentityID checks that parsing never panics on arbitrary input and
// that any accepted id round-trips through String unchanged.
func FuzzParseIdentityID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE identities;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseIdentityID(input)
		if err != nil {
			return
		}
		roundTrip, err2 := ParseIdentityID(id.String())
		if err2 != nil {
			t.Errorf("valid id failed round-trip: %v", err2)
		}
		if roundTrip != id {
			t.Error("round-trip changed id value")
		}
	})
}

// FuzzParseCustomerID checks the customer-id validator against arbitrary
// input: accepted ids must be stored verbatim.
func FuzzParseCustomerID(f *testing.F) {
	f.Add("C-2024-000042")
	f.Add("")
	f.Add(" padded ")
	f.Add("Ω-unicode")

	f.Fuzz(func(t *testing.T, input string) {
		cuid, err := ParseCustomerID(input)
		if err != nil {
			return
		}
		if cuid.String() != input {
			t.Error("accepted customer id was altered during parsing")
		}
	})
}

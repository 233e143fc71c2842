package identity

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testOwner(b byte) Identity {
	var id Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func TestParseIdentityEncodings(t *testing.T) {
	owner := testOwner(0xab)
	inputs := []string{
		owner.String(),
		"0x" + strings.TrimPrefix(owner.String(), "did:acc:"),
		owner.Bech32(),
		"  " + owner.String() + "  ",
	}
	for _, in := range inputs {
		got, err := ParseIdentity(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != owner {
			t.Fatalf("parse %q: got %s want %s", in, got, owner)
		}
	}
}

func TestParseIdentityRejectsMalformed(t *testing.T) {
	zero := Identity{}
	cases := []string{
		"",
		"did:acc:zz",
		"did:acc:abcd",
		zero.String(),
		"did:other:" + strings.Repeat("ab", 32),
	}
	for _, in := range cases {
		if _, err := ParseIdentity(in); !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("parse %q: expected ErrInvalidIdentity, got %v", in, err)
		}
	}
}

func TestParseRefAcceptsPairs(t *testing.T) {
	owner := testOwner(0x11)
	want := Reference{Owner: owner, Counter: 3}

	inputs := []interface{}{
		want,
		&want,
		[2]interface{}{owner, 3},
		[]interface{}{owner.String(), uint64(3)},
		[]interface{}{owner.Bytes(), json.Number("3")},
		[]interface{}{[IdentityLength]byte(owner), float64(3)},
		[]string{owner.String(), "3"},
	}
	for i, in := range inputs {
		got, err := ParseRef(in)
		if err != nil {
			t.Fatalf("input %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("input %d: got %v want %v", i, got, want)
		}
	}
}

func TestParseRefRejectsMalformed(t *testing.T) {
	owner := testOwner(0x22)
	cases := []interface{}{
		nil,
		"did:acc:" + strings.Repeat("22", 32),
		[]interface{}{owner},
		[]interface{}{owner, 1, 2},
		[]interface{}{owner, 0},
		[]interface{}{owner, -4},
		[]interface{}{owner, 1.5},
		[]interface{}{owner, "abc"},
		[]interface{}{"not-a-did", 1},
		[]interface{}{Identity{}, 1},
		[]interface{}{[]byte{1, 2, 3}, 1},
		(*Reference)(nil),
		Reference{Owner: owner},
	}
	for i, in := range cases {
		if _, err := ParseRef(in); !errors.Is(err, ErrInvalidReference) {
			t.Fatalf("case %d: expected ErrInvalidReference, got %v", i, err)
		}
	}
}

func TestReferenceJSON(t *testing.T) {
	ref := Reference{Owner: testOwner(0x33), Counter: 42}
	encoded, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.HasPrefix(string(encoded), `["did:acc:`) || !strings.HasSuffix(string(encoded), `,42]`) {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	var decoded Reference
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != ref {
		t.Fatalf("round trip mismatch: got %v want %v", decoded, ref)
	}
	if err := json.Unmarshal([]byte(`["did:acc:00", 1]`), &decoded); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

package backupcodes

import "testing"

func TestGenerate_CountAndShape(t *testing.T) {
	codes, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(codes) != Count {
		t.Fatalf("got %d codes, want %d", len(codes), Count)
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		if len(c) != 19 { // 16 chars + 3 hyphens
			t.Errorf("code %q has unexpected length %d", c, len(c))
		}
		if seen[c] {
			t.Errorf("duplicate code generated: %q", c)
		}
		seen[c] = true
	}
}

func TestHashVerify_RoundTrip(t *testing.T) {
	code := Normalize("abcd-efgh-jklm-npqr")
	hash, err := Hash(code)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !Verify(code, hash) {
		t.Fatal("expected hash to verify against the code it was derived from")
	}
	if Verify(Normalize("zzzz-zzzz-zzzz-zzzz"), hash) {
		t.Fatal("expected a different code not to verify")
	}
}

func TestNormalize_StripsSeparatorsAndCase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ABCD-EFGH-JKLM-NPQR", "ABCDEFGHJKLMNPQR"},
		{"abcd efgh jklm npqr", "ABCDEFGHJKLMNPQR"},
		{"abcd-efgh-jklm-npqr", "ABCDEFGHJKLMNPQR"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestVerify_RejectsMalformedHash(t *testing.T) {
	if Verify("ANYTHING", "not-a-valid-hash") {
		t.Fatal("expected malformed hash to fail verification")
	}
}

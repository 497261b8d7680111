package services

import "testing"

func TestVerifySignatureRoundTrip(t *testing.T) {
	msg := ClientVerifyMessage("order_ABC", "pay_XYZ")
	if string(msg) != "order_ABC|pay_XYZ" {
		t.Fatalf("unexpected canonical message %q", msg)
	}

	sig := SignatureOf(msg, "secret")
	if len(sig) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature(msg, sig, "secret") {
		t.Error("Expected valid signature to verify")
	}
}

func TestVerifySignatureKnownVector(t *testing.T) {
	// RFC 4231 test case 2
	msg := []byte("what do ya want for nothing?")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got := SignatureOf(msg, "Jefe"); got != want {
		t.Errorf("SignatureOf = %s, want %s", got, want)
	}
}

func TestVerifySignatureSingleByteMutations(t *testing.T) {
	msg := []byte(`{"event":"payment.captured","payload":{}}`)
	secret := "webhook-secret"
	sig := SignatureOf(msg, secret)

	for i := range msg {
		mutated := append([]byte(nil), msg...)
		mutated[i] ^= 0x01
		if VerifySignature(mutated, sig, secret) {
			t.Fatalf("mutating message byte %d still verified", i)
		}
	}

	for i := range sig {
		mutated := []byte(sig)
		mutated[i] ^= 0x01
		if VerifySignature(msg, string(mutated), secret) {
			t.Fatalf("mutating signature byte %d still verified", i)
		}
	}

	for i := range secret {
		mutated := []byte(secret)
		mutated[i] ^= 0x01
		if VerifySignature(msg, sig, string(mutated)) {
			t.Fatalf("mutating secret byte %d still verified", i)
		}
	}
}

func TestVerifySignatureRejectsEmptyAndUppercase(t *testing.T) {
	msg := []byte("order_1|pay_1")
	sig := SignatureOf(msg, "s")

	if VerifySignature(msg, "", "s") {
		t.Error("Expected empty signature to fail")
	}
	if VerifySignature(msg, sig[:10], "s") {
		t.Error("Expected truncated signature to fail")
	}
	upper := []byte(sig)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	if string(upper) != sig && VerifySignature(msg, string(upper), "s") {
		t.Error("Expected exact hex match only")
	}
}

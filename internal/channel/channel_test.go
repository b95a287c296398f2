package channel

import "testing"

func TestClassify(t *testing.T) {
	cases := map[string]Type{
		"news":           Public,
		"private-room":   Private,
		"presence-chat":  Presence,
		"private-":       Private,
		"presence-":      Presence,
		"public-whatnot": Public,
	}
	for name, want := range cases {
		if got := Classify(name); got != want {
			t.Errorf("Classify(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSignAndVerifyPrivate(t *testing.T) {
	secret := "s3cret"
	sig := Sign(secret, "abc123", "private-room", "")
	if err := VerifyPrivate(secret, "abc123", "private-room", sig); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestVerifyPrivateRejectsBitFlip(t *testing.T) {
	secret := "s3cret"
	sig := Sign(secret, "abc123", "private-room", "")
	flipped := []byte(sig)
	// flip the last hex digit
	if flipped[len(flipped)-1] == '0' {
		flipped[len(flipped)-1] = '1'
	} else {
		flipped[len(flipped)-1] = '0'
	}
	if err := VerifyPrivate(secret, "abc123", "private-room", string(flipped)); err == nil {
		t.Fatal("expected verification failure on bit flip")
	}
}

func TestVerifyPresenceExactBytes(t *testing.T) {
	secret := "s3cret"
	channelData := `{"user_id":"u1","user_info":{"n":"Alice"}}`
	sig := Sign(secret, "A", "presence-chat", channelData)
	if err := VerifyPresence(secret, "A", "presence-chat", channelData, sig); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
	// Re-serializing (e.g. reordering keys) must break verification since the
	// server must hash the exact client bytes.
	reordered := `{"user_info":{"n":"Alice"},"user_id":"u1"}`
	if err := VerifyPresence(secret, "A", "presence-chat", reordered, sig); err == nil {
		t.Fatal("expected verification failure when channel_data bytes differ")
	}
}

func TestVerifyMissingAuth(t *testing.T) {
	if err := VerifyPrivate("s3cret", "abc123", "private-room", ""); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestVerifyWrongLengthHex(t *testing.T) {
	if err := VerifyPrivate("s3cret", "abc123", "private-room", "abcd"); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

package secretbox

import (
	"bytes"
	"strings"
	"testing"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := New(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := testCodec(t)
	for _, plaintext := range []string{"", "secret", `{"token":"abc","n":42}`, strings.Repeat("x", 4096)} {
		sealed, err := c.Seal(plaintext)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		encoded := sealed.Encode()
		if !strings.HasPrefix(encoded, "enc:v1:") {
			t.Fatalf("unexpected envelope: %q", encoded)
		}
		parsed, err := Parse(encoded)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !parsed.Sealed() {
			t.Fatal("expected sealed value")
		}
		got, err := c.Open(parsed)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: %q != %q", got, plaintext)
		}
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	c := testCodec(t)
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	if a.Encode() == b.Encode() {
		t.Fatal("two seals of the same plaintext produced identical envelopes")
	}
}

func TestParsePlaintextPassthrough(t *testing.T) {
	v, err := Parse(`{"just":"json"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.Sealed() {
		t.Fatal("plaintext reported as sealed")
	}
	got, err := testCodec(t).Open(v)
	if err != nil || got != `{"just":"json"}` {
		t.Fatalf("open plaintext: %q %v", got, err)
	}
}

func TestParseMalformedEnvelope(t *testing.T) {
	for _, stored := range []string{"enc:", "enc:v1", "enc:v2:AAAA", "enc:v1:!!!not-base64"} {
		if _, err := Parse(stored); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", stored)
		}
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c := testCodec(t)
	sealed, err := c.Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	sealed.payload[len(sealed.payload)-1] ^= 0xFF
	if _, err := c.Open(sealed); err == nil {
		t.Fatal("tampered ciphertext opened cleanly")
	}
}

func TestOpenWrongKey(t *testing.T) {
	c := testCodec(t)
	sealed, err := c.Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	other, err := New(bytes.Repeat([]byte{0x7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatal("wrong key opened envelope")
	}
}

func TestNilCodec(t *testing.T) {
	var c *Codec
	if _, err := c.Seal("x"); err != ErrNoKey {
		t.Fatalf("seal without key: %v", err)
	}
	sealed, _ := testCodec(t).Seal("x")
	if _, err := c.Open(sealed); err != ErrNoKey {
		t.Fatalf("open without key: %v", err)
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Fatal("short master key accepted")
	}
}

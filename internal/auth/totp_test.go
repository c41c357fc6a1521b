package auth

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"
)

// RFC 6238 appendix B SHA-1 seed "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestTOTPCodeMatchesRFCVectors(t *testing.T) {
	cases := map[int64]string{
		59:         "287082",
		1111111109: "081804",
		1111111111: "050471",
		1234567890: "005924",
		2000000000: "279037",
	}
	for unix, want := range cases {
		got, err := TOTPCode(rfcSecret, time.Unix(unix, 0))
		if err != nil {
			t.Fatalf("TOTPCode: %v", err)
		}
		if got != want {
			t.Errorf("at %d got %s want %s", unix, got, want)
		}
	}
}

func TestMatchTOTPStepAllowsOneStepSkew(t *testing.T) {
	now := time.Unix(1111111109, 0)
	code, _ := TOTPCode(rfcSecret, now)
	want := now.Unix() / totpPeriod

	step, ok := matchTOTPStep(rfcSecret, code, now)
	if !ok || step != want {
		t.Fatalf("current step: got %d %v want %d", step, ok, want)
	}
	step, ok = matchTOTPStep(rfcSecret, " "+code+" ", now.Add(30*time.Second))
	if !ok || step != want {
		t.Fatalf("previous step: got %d %v want %d", step, ok, want)
	}
	if _, ok := matchTOTPStep(rfcSecret, code, now.Add(90*time.Second)); ok {
		t.Fatal("expected code two steps old to fail")
	}
	if _, ok := matchTOTPStep(rfcSecret, "12345", now); ok {
		t.Fatal("expected short code to fail")
	}
	if _, ok := matchTOTPStep("not base32!", code, now); ok {
		t.Fatal("expected bad secret to fail")
	}
}

func TestNewTOTPKey(t *testing.T) {
	key, err := NewTOTPKey("OH-EHR", "jane@example.com", bytes.NewReader(bytes.Repeat([]byte{1}, 20)))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if len(key.Secret()) != 32 {
		t.Fatalf("expected 32 base32 chars, got %d", len(key.Secret()))
	}

	raw := key.URL()
	if !strings.HasPrefix(raw, "otpauth://totp/OH-EHR:jane@example.com?") {
		t.Fatalf("unexpected url %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Get("secret") != key.Secret() || u.Query().Get("issuer") != "OH-EHR" {
		t.Fatalf("unexpected query %v", u.Query())
	}
}

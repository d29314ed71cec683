package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"testing"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCheckAllowlistEmptyProductionDenies(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvProduction})

	decision := a.CheckAllowlist("196.201.214.200")
	if decision.Allowed {
		t.Fatal("expected deny with empty allowlist in production")
	}
	if decision.Reason != ReasonAllowlistUnconfigured {
		t.Fatalf("expected %s, got %s", ReasonAllowlistUnconfigured, decision.Reason)
	}
}

func TestCheckAllowlistEmptyDevelopmentAllows(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})

	if decision := a.CheckAllowlist("203.0.113.9"); !decision.Allowed {
		t.Fatalf("expected allow in development, got %+v", decision)
	}
}

func TestCheckAllowlistMatches(t *testing.T) {
	a := NewAuthenticator(Config{
		Allowlist:   []string{"196.201.214.200", " 196.201.214.206 "},
		Environment: EnvProduction,
	})

	if decision := a.CheckAllowlist("196.201.214.200"); !decision.Allowed {
		t.Fatalf("expected allow for listed ip, got %+v", decision)
	}
	if decision := a.CheckAllowlist("196.201.214.206"); !decision.Allowed {
		t.Fatalf("expected allow for trimmed listed ip, got %+v", decision)
	}
	if decision := a.CheckAllowlist("203.0.113.9"); decision.Allowed || decision.Reason != ReasonIPNotAllowed {
		t.Fatalf("expected ip_not_allowed, got %+v", decision)
	}
}

func TestCheckSignatureValid(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})
	payload := []byte(`{"Body":{}}`)
	secret := []byte("webhook-secret")

	if decision := a.CheckSignature(payload, sign("webhook-secret", payload), secret); !decision.Allowed {
		t.Fatalf("expected allow for a valid signature, got %+v", decision)
	}
}

func TestCheckSignatureMissing(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})

	decision := a.CheckSignature([]byte(`{}`), "   ", []byte("webhook-secret"))
	if decision.Allowed || decision.Reason != ReasonMissingSignature {
		t.Fatalf("expected missing_signature, got %+v", decision)
	}
}

func TestCheckSignatureWrongLengthDoesNotPanic(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})

	decision := a.CheckSignature([]byte(`{}`), "deadbeef", []byte("webhook-secret"))
	if decision.Allowed || decision.Reason != ReasonInvalidSignature {
		t.Fatalf("expected invalid_signature for a short candidate, got %+v", decision)
	}
}

func TestCheckSignatureNonHex(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})

	decision := a.CheckSignature([]byte(`{}`), "not-hex!", []byte("webhook-secret"))
	if decision.Allowed || decision.Reason != ReasonInvalidSignature {
		t.Fatalf("expected invalid_signature for a non-hex candidate, got %+v", decision)
	}
}

func TestCheckSignatureTampered(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})
	secret := []byte("webhook-secret")

	decision := a.CheckSignature([]byte(`{"amount":2}`), sign("webhook-secret", []byte(`{"amount":1}`)), secret)
	if decision.Allowed || decision.Reason != ReasonInvalidSignature {
		t.Fatalf("expected invalid_signature for a tampered payload, got %+v", decision)
	}
}

func TestClientIPIgnoresProxyHeadersByDefault(t *testing.T) {
	a := NewAuthenticator(Config{Environment: EnvDevelopment})

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "203.0.113.9:1234"
	r.Header.Set("X-Forwarded-For", "196.201.214.200")

	if ip := a.ClientIP(r); ip != "203.0.113.9" {
		t.Fatalf("expected remote addr host, got %s", ip)
	}
}

func TestClientIPUsesForwardedForWithTrustedProxy(t *testing.T) {
	a := NewAuthenticator(Config{TrustProxy: true, Environment: EnvDevelopment})

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	r.Header.Set("X-Forwarded-For", "196.201.214.200, 10.0.0.5")

	if ip := a.ClientIP(r); ip != "196.201.214.200" {
		t.Fatalf("expected first forwarded entry, got %s", ip)
	}
}

func TestAuthenticateSkipsSignatureWithoutSecret(t *testing.T) {
	a := NewAuthenticator(Config{Allowlist: []string{"196.201.214.200"}, Environment: EnvProduction})

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "196.201.214.200:44321"

	if decision := a.Authenticate(r, []byte(`{}`), nil, "X-Mpesa-Signature"); !decision.Allowed {
		t.Fatalf("expected allow without a configured secret, got %+v", decision)
	}
}

func TestAuthenticateChecksIPBeforeSignature(t *testing.T) {
	a := NewAuthenticator(Config{Allowlist: []string{"196.201.214.200"}, Environment: EnvProduction})

	payload := []byte(`{}`)
	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "203.0.113.9:1234"
	r.Header.Set("X-Mpesa-Signature", sign("webhook-secret", payload))

	decision := a.Authenticate(r, payload, []byte("webhook-secret"), "X-Mpesa-Signature")
	if decision.Allowed || decision.Reason != ReasonIPNotAllowed {
		t.Fatalf("expected ip_not_allowed despite a valid signature, got %+v", decision)
	}
}

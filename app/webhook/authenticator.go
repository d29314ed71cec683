package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/novacart/ms-go-payments/app/factory"
	"github.com/sirupsen/logrus"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Deny reasons surfaced in decisions and audit detail.
const (
	ReasonIPNotAllowed          = "ip_not_allowed"
	ReasonAllowlistUnconfigured = "allowlist_unconfigured"
	ReasonMissingSignature      = "missing_signature"
	ReasonInvalidSignature      = "invalid_signature"
	ReasonValidationError       = "validation_error"
)

// Decision is the result of an authentication check. Checks return decisions,
// never errors or panics, so no callback path can crash the handler.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

type Config struct {
	Allowlist   []string
	TrustProxy  bool
	Environment string
}

// Authenticator decides whether an inbound provider callback may be trusted.
// Configuration is immutable after construction; every method is safe for
// concurrent use.
type Authenticator struct {
	allowlist  map[string]struct{}
	trustProxy bool
	production bool
	logger     logrus.FieldLogger
}

func NewAuthenticator(cfg Config) *Authenticator {
	allowlist := make(map[string]struct{}, len(cfg.Allowlist))
	for _, entry := range cfg.Allowlist {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			allowlist[entry] = struct{}{}
		}
	}

	return &Authenticator{
		allowlist:  allowlist,
		trustProxy: cfg.TrustProxy,
		production: strings.EqualFold(strings.TrimSpace(cfg.Environment), EnvProduction),
		logger:     factory.NewModuleLogger("webhook-authenticator"),
	}
}

// ClientIP derives the caller address for a request. Proxy headers are only
// consulted when the deployment declares a trusted proxy in front of the
// service; otherwise they are attacker-controlled and ignored.
func (a *Authenticator) ClientIP(r *http.Request) string {
	if a.trustProxy {
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
			if first != "" {
				return first
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// CheckAllowlist applies the allowlist policy. An empty allowlist is an
// explicit configuration state: production denies everyone (fail-secure),
// development allows with a warning.
func (a *Authenticator) CheckAllowlist(ip string) Decision {
	if len(a.allowlist) == 0 {
		if a.production {
			a.logger.Warn("Webhook IP allowlist is empty in production, denying all callers")
			return Deny(ReasonAllowlistUnconfigured)
		}
		a.logger.Warn("Webhook IP allowlist is empty, allowing all callers in development")
		return Allow()
	}

	if _, ok := a.allowlist[strings.TrimSpace(ip)]; !ok {
		return Deny(ReasonIPNotAllowed)
	}
	return Allow()
}

// CheckSignature verifies an HMAC-SHA256 hex signature over the payload.
// Byte lengths are compared before the constant-time primitive so
// mismatched-length buffers never reach it, and any panic during computation
// is converted into a deny.
func (a *Authenticator) CheckSignature(payload []byte, presented string, secret []byte) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", fmt.Sprint(r)).Error("Signature validation panicked")
			decision = Deny(ReasonValidationError)
		}
	}()

	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Deny(ReasonMissingSignature)
	}

	candidate, err := hex.DecodeString(presented)
	if err != nil {
		return Deny(ReasonInvalidSignature)
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	expected := mac.Sum(nil)

	if len(candidate) != len(expected) {
		return Deny(ReasonInvalidSignature)
	}
	if subtle.ConstantTimeCompare(candidate, expected) != 1 {
		return Deny(ReasonInvalidSignature)
	}

	return Allow()
}

// Authenticate runs the combined contract: the IP check always applies, and
// the signature check applies when the provider has a configured secret.
// headerNames are checked in order for the presented signature.
func (a *Authenticator) Authenticate(r *http.Request, payload []byte, secret []byte, headerNames ...string) Decision {
	if decision := a.CheckAllowlist(a.ClientIP(r)); !decision.Allowed {
		return decision
	}
	if len(secret) == 0 {
		return Allow()
	}
	return a.CheckSignature(payload, SignatureFromHeaders(r.Header, headerNames...), secret)
}

// SignatureFromHeaders returns the first non-empty candidate signature header.
func SignatureFromHeaders(h http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

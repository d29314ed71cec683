package provider

import (
	"fmt"
	"sort"
	"strings"
)

// UnsupportedMethodError names the rejected method and the methods the
// registry actually knows. It is a normal return value, never a panic.
type UnsupportedMethodError struct {
	Method    string
	Supported []string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("payment method %q is not supported (supported: %s)", e.Method, strings.Join(e.Supported, ", "))
}

// NormalizeMethod trims and lowercases a raw method tag so lookups are
// case-insensitive at every input boundary.
func NormalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}

// Registry maps payment-method tags to gateway implementations. It is built
// once at startup and does no I/O.
type Registry struct {
	gateways map[string]Gateway
	methods  []string
}

func NewRegistry(gateways ...Gateway) *Registry {
	items := make(map[string]Gateway, len(gateways))
	methods := make([]string, 0, len(gateways))
	for _, g := range gateways {
		method := NormalizeMethod(g.Method())
		if method == "" {
			continue
		}
		if _, exists := items[method]; !exists {
			methods = append(methods, method)
		}
		items[method] = g
	}
	sort.Strings(methods)
	return &Registry{gateways: items, methods: methods}
}

// IsSupported reports whether the value names a registered payment method.
// It accepts any input and never fails: nil, non-string, and empty values
// are simply unsupported.
func (r *Registry) IsSupported(method any) bool {
	s, ok := method.(string)
	if !ok {
		return false
	}
	_, found := r.gateways[NormalizeMethod(s)]
	return found
}

// Resolve returns the gateway for a supported method, or an
// UnsupportedMethodError carrying the supported set.
func (r *Registry) Resolve(method string) (Gateway, error) {
	gateway, ok := r.gateways[NormalizeMethod(method)]
	if !ok {
		return nil, &UnsupportedMethodError{Method: strings.TrimSpace(method), Supported: r.Methods()}
	}
	return gateway, nil
}

// Methods returns the sorted list of registered method tags.
func (r *Registry) Methods() []string {
	return append([]string(nil), r.methods...)
}

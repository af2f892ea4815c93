package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	pkghttp "github.com/verdantlabs/gatekeeper/pkg/http"
)

func TestExtractClientIP_NoProxy(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.5:44321"
	req.Header.Set("X-Forwarded-For", "10.0.0.99")

	// Forwarding headers from an untrusted source are ignored
	ip := pkghttp.ExtractClientIP(req, &pkghttp.IPConfig{})
	assert.Equal(t, "203.0.113.5", ip)
}

func TestExtractClientIP_TrustedProxyForwardedFor(t *testing.T) {
	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:44321"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "203.0.113.5", ip)
}

func TestExtractClientIP_TrustedProxyRealIP(t *testing.T) {
	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:44321"
	req.Header.Set("X-Real-IP", "198.51.100.7")

	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestExtractClientIP_InvalidForwardedForFallsBack(t *testing.T) {
	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:44321"
	req.Header.Set("X-Forwarded-For", "not-an-ip")

	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "10.0.0.1", ip)
}

func TestExtractClientIP_NilConfig(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.5:44321"

	ip := pkghttp.ExtractClientIP(req, nil)
	assert.Equal(t, "203.0.113.5", ip)
}

// Package tlsutil provides the self-signed certificate the web service
// falls back to and a client that trusts it on loopback addresses.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Organization is written into generated certificates.
const Organization = "nix-runner"

// GenerateSelfSignedCert writes a one-year ECDSA certificate valid for
// localhost, the machine's hostname and the loopback addresses.
func GenerateSelfSignedCert(certPath, keyPath string) error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating private key: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{Organization},
			CommonName:   hostname,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", hostname},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}

	if err := writePEM(certPath, "CERTIFICATE", certDER, 0644); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, perm)
}

// FileExists returns true if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureTLSCert generates a certificate unless both files already exist.
func EnsureTLSCert(certPath, keyPath string) error {
	if FileExists(certPath) && FileExists(keyPath) {
		return nil
	}
	return GenerateSelfSignedCert(certPath, keyPath)
}

// DefaultTLSConfig returns a TLS config with reasonable defaults.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// loopbackTransport skips certificate verification for HTTPS requests to
// loopback hosts only.
type loopbackTransport struct {
	secure   http.RoundTripper
	insecure http.RoundTripper
}

func (t *loopbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL != nil && req.URL.Scheme == "https" && isLoopbackHost(req.URL.Hostname()) {
		return t.insecure.RoundTrip(req)
	}
	return t.secure.RoundTrip(req)
}

// NewHTTPClient returns a client that verifies TLS normally but accepts the
// self-signed certificate of a service on localhost.
func NewHTTPClient(timeout time.Duration) *http.Client {
	secure := http.DefaultTransport.(*http.Transport).Clone()
	secure.TLSClientConfig = DefaultTLSConfig()

	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecureTLS := DefaultTLSConfig()
	insecureTLS.InsecureSkipVerify = true
	insecure.TLSClientConfig = insecureTLS

	return &http.Client{
		Timeout:   timeout,
		Transport: &loopbackTransport{secure: secure, insecure: insecure},
	}
}

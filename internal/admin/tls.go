package admin

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

// DefaultCertValidity is used by SelfSigned when validity is not positive.
const DefaultCertValidity = 30 * 24 * time.Hour

// Cert is a generated serving certificate.
type Cert struct {
	TLS      tls.Certificate
	NotAfter time.Time
	// Fingerprint is the SHA-256 of the DER encoding, as colon separated hex.
	Fingerprint string
}

// SelfSigned creates an ECDSA P-256 certificate for hosts, which may mix DNS
// names and IP literals. localhost and the loopback addresses are always
// included.
func SelfSigned(hosts []string, validity time.Duration) (*Cert, error) {
	if validity <= 0 {
		validity = DefaultCertValidity
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("admin: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("admin: generate serial: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute) // clock skew
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "encbridge admin"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else if h != "" && h != "localhost" {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("admin: create certificate: %w", err)
	}
	sum := sha256.Sum256(der)
	hexParts := make([]string, len(sum))
	for i, b := range sum {
		hexParts[i] = fmt.Sprintf("%02X", b)
	}
	return &Cert{
		TLS:         tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		NotAfter:    tmpl.NotAfter,
		Fingerprint: strings.Join(hexParts, ":"),
	}, nil
}

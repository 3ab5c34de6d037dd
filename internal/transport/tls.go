package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"math/big"
	"sync"
	"time"
)

const (
	alpnProtocol = "godesk-v1"
	certLifetime = 24 * time.Hour
)

// The host's QUIC certificate is created on first use and shared by every
// listener in the process.
var identity struct {
	once sync.Once
	cert tls.Certificate
	err  error
}

// hostCertificate returns the process's QUIC certificate. QUIC cannot run
// without TLS; the certificate does not authenticate the host.
func hostCertificate() (tls.Certificate, error) {
	identity.once.Do(func() {
		identity.cert, identity.err = selfSigned(certLifetime)
	})
	return identity.cert, identity.err
}

func selfSigned(lifetime time.Duration) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(lifetime),
		DNSNames:     []string{"godesk"},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// CertificateFingerprint returns the fingerprint of the certificate QUIC
// listeners in this process present.
func CertificateFingerprint() (string, error) {
	cert, err := hostCertificate()
	if err != nil {
		return "", err
	}
	return Fingerprint(cert), nil
}

// Fingerprint is the hex SHA-256 of the certificate's leaf, for logs.
func Fingerprint(cert tls.Certificate) string {
	if len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(cert.Certificate[0])
	return hex.EncodeToString(sum[:])
}

func serverTLS(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
	}
}

// clientTLS skips verification: the host's certificate is self-signed and
// the protocol carries no authentication of its own.
func clientTLS() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

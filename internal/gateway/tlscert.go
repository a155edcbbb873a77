package gateway

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certLifetime   = 10 * 365 * 24 * time.Hour
	certRemintLead = 7 * 24 * time.Hour
	certKeyBits    = 2048
)

// EnsureCertificate loads the self-signed pair at certPath/keyPath, minting
// a fresh one when the files are missing, unreadable, or expire within
// seven days. host becomes the certificate's subject alternative name.
func EnsureCertificate(certPath, keyPath, host string, logger *slog.Logger) (tls.Certificate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil {
		leaf, perr := x509.ParseCertificate(cert.Certificate[0])
		if perr == nil && time.Until(leaf.NotAfter) > certRemintLead {
			return cert, nil
		}
		logger.Info("tls certificate expiring, reminting", "path", certPath)
	}

	if err := mintCertificate(certPath, keyPath, host); err != nil {
		return tls.Certificate{}, err
	}
	logger.Info("minted self-signed tls certificate", "path", certPath, "host", host)
	return tls.LoadX509KeyPair(certPath, keyPath)
}

func mintCertificate(certPath, keyPath, host string) error {
	key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host, Organization: []string{"Haya"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

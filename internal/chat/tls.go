package chat

import (
	"crypto/tls"
	"fmt"
)

// LoadTLSConfig - loads server TLS configuration from PEM encoded certificate and key files.
// Returns nil config when both paths are empty which means plaintext mode.
// Deprecated protocol versions are disabled; crypto/tls never negotiates compression.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	switch {
	case certFile == "" && keyFile == "":
		return nil, nil
	case certFile == "":
		return nil, fmt.Errorf("%w: key is given without certificate", ErrTLSConfig)
	case keyFile == "":
		return nil, fmt.Errorf("%w: certificate is given without key", ErrTLSConfig)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTLSConfig, err)
	}
	return NewTLSConfig(cert), nil
}

// NewTLSConfig - builds server TLS configuration for given certificates.
func NewTLSConfig(certs ...tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: certs,
		MinVersion:   tls.VersionTLS12,
	}
}

package apns

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadPEMCertificate loads a client certificate from PEM encoded
// certificate and key files.
func LoadPEMCertificate(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errors.Join(ErrCertificate, err)
	}
	return cert, nil
}

// LoadP12Certificate loads a client certificate from a PKCS#12 bundle, the
// format the Apple developer portal exports.
func LoadP12Certificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, errors.Join(ErrCertificate, err)
	}
	return ParseP12Certificate(data, password)
}

// ParseP12Certificate decodes a PKCS#12 bundle holding one certificate and
// its private key.
func ParseP12Certificate(data []byte, password string) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, errors.Join(ErrCertificate, fmt.Errorf("decode pkcs12: %w", err))
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

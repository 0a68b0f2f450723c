package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// Keystore types accepted by Load.
const (
	TypePKCS12 = "PKCS12"
	TypePEM    = "PEM"
)

// StoreConfig locates the signing key pair.
type StoreConfig struct {
	Path     string
	Password string
	Alias    string
	Type     string // PKCS12 (default) or PEM
}

// Load opens the keystore described by cfg and returns the key pair stored
// under cfg.Alias. Every error wraps ErrKeyLoad.
func Load(cfg StoreConfig) (*KeyPair, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: keystore path is required", ErrKeyLoad)
	}

	storeType := strings.ToUpper(strings.TrimSpace(cfg.Type))
	if storeType == "" {
		storeType = TypePKCS12
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read keystore: %v", ErrKeyLoad, err)
	}

	switch storeType {
	case TypePKCS12, "P12", "PFX":
		return loadPKCS12(data, cfg.Password, cfg.Alias)
	case TypePEM:
		return loadPEM(data)
	default:
		return nil, fmt.Errorf("%w: unsupported keystore type %q", ErrKeyLoad, cfg.Type)
	}
}

// loadPKCS12 selects the private key whose friendlyName equals alias and the
// certificate sharing its localKeyId. Aliases compare case-insensitively
// because keytool stores them lowercased.
func loadPKCS12(data []byte, password, alias string) (*KeyPair, error) {
	if alias == "" {
		return nil, fmt.Errorf("%w: keystore alias is required", ErrKeyLoad)
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: incorrect keystore password", ErrKeyLoad)
		}
		return nil, fmt.Errorf("%w: decode pkcs12: %v", ErrKeyLoad, err)
	}

	var keyBlock *pem.Block
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" && strings.EqualFold(b.Headers["friendlyName"], alias) {
			keyBlock = b
			break
		}
	}
	if keyBlock == nil {
		return nil, fmt.Errorf("%w: alias %q has no private key entry", ErrKeyLoad, alias)
	}

	var certBlock *pem.Block
	localKeyID := keyBlock.Headers["localKeyId"]
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			continue
		}
		if localKeyID != "" && b.Headers["localKeyId"] == localKeyID {
			certBlock = b
			break
		}
		if certBlock == nil && strings.EqualFold(b.Headers["friendlyName"], alias) {
			certBlock = b
		}
	}
	if certBlock == nil {
		return nil, fmt.Errorf("%w: alias %q has no certificate", ErrKeyLoad, alias)
	}

	private, err := parseRSAPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %v", ErrKeyLoad, err)
	}
	public, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: certificate key is %T, not RSA", ErrKeyLoad, cert.PublicKey)
	}

	return newKeyPair(private, public)
}

// loadPEM reads a bundle holding one private key and, optionally, the
// matching certificate or public key.
func loadPEM(data []byte) (*KeyPair, error) {
	var (
		private *rsa.PrivateKey
		public  *rsa.PublicKey
	)

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		switch block.Type {
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if private != nil {
				return nil, fmt.Errorf("%w: pem bundle holds more than one private key", ErrKeyLoad)
			}
			key, err := parseRSAPrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			private = key
		case "CERTIFICATE":
			if public != nil {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse certificate: %v", ErrKeyLoad, err)
			}
			key, ok := cert.PublicKey.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("%w: certificate key is %T, not RSA", ErrKeyLoad, cert.PublicKey)
			}
			public = key
		case "PUBLIC KEY":
			parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse public key: %v", ErrKeyLoad, err)
			}
			key, ok := parsed.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrKeyLoad, parsed)
			}
			public = key
		}
	}

	if private == nil {
		return nil, fmt.Errorf("%w: pem bundle has no private key", ErrKeyLoad)
	}
	if public == nil {
		public = &private.PublicKey
	}
	return newKeyPair(private, public)
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		if _, ecErr := x509.ParseECPrivateKey(der); ecErr == nil {
			return nil, fmt.Errorf("%w: private key is ECDSA, not RSA", ErrKeyLoad)
		}
		return nil, fmt.Errorf("%w: parse private key: %v", ErrKeyLoad, err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", ErrKeyLoad, parsed)
	}
	return key, nil
}

package keys

import (
	"crypto"
	"crypto/rsa"
	_ "crypto/sha256" // registers crypto.SHA256 for thumbprints
	"encoding/base64"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// MinRSABits is the smallest RSA modulus accepted for token signing.
const MinRSABits = 2048

var (
	// ErrKeyLoad is returned for every failure to load the signing key pair.
	// It is fatal at startup: there is no degraded mode without signing keys.
	ErrKeyLoad = errors.New("key load failure")
)

// KeyPair holds the RSA key pair used to sign and verify tokens.
// A KeyPair is immutable after Load and safe for concurrent use.
type KeyPair struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	keyID   string
}

// NewKeyPair wraps an RSA private key. The public half is taken from the
// private key itself.
func NewKeyPair(private *rsa.PrivateKey) (*KeyPair, error) {
	if private == nil {
		return nil, fmt.Errorf("%w: private key is nil", ErrKeyLoad)
	}
	return newKeyPair(private, &private.PublicKey)
}

func newKeyPair(private *rsa.PrivateKey, public *rsa.PublicKey) (*KeyPair, error) {
	if err := private.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", ErrKeyLoad, err)
	}
	if bits := private.N.BitLen(); bits < MinRSABits {
		return nil, fmt.Errorf("%w: rsa key is %d bits, need at least %d", ErrKeyLoad, bits, MinRSABits)
	}
	if !public.Equal(&private.PublicKey) {
		return nil, fmt.Errorf("%w: certificate public key does not match private key", ErrKeyLoad)
	}

	jwk := jose.JSONWebKey{Key: public}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: compute key id: %v", ErrKeyLoad, err)
	}

	return &KeyPair{
		private: private,
		public:  public,
		keyID:   base64.RawURLEncoding.EncodeToString(thumb),
	}, nil
}

// Private returns the signing key.
func (k *KeyPair) Private() *rsa.PrivateKey {
	return k.private
}

// Public returns the verification key.
func (k *KeyPair) Public() *rsa.PublicKey {
	return k.public
}

// KeyID returns the RFC 7638 thumbprint of the public key.
func (k *KeyPair) KeyID() string {
	return k.keyID
}

// String redacts key material so a KeyPair never ends up in logs.
func (k *KeyPair) String() string {
	return fmt.Sprintf("KeyPair(kid=%s, rsa-%d)", k.keyID, k.public.N.BitLen())
}

// GoString implements fmt.GoStringer with the same redaction as String.
func (k *KeyPair) GoString() string {
	return k.String()
}

// JWKS returns the public verification key as a JSON Web Key Set.
func (k *KeyPair) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       k.public,
			KeyID:     k.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
}

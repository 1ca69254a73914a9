package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrMissingKeyMaterial indicates the signing or verification key is not configured.
	ErrMissingKeyMaterial = errors.New("keys: signing key material is not configured")
	// ErrMalformedKey indicates configured PEM data could not be parsed.
	ErrMalformedKey = errors.New("keys: malformed key material")
)

// Provider imports and caches the issuer RSA key pair. The import runs at
// most once; concurrent first use shares the same result. A failed import is
// a configuration error that every subsequent accessor call repeats, never a
// per-request condition.
type Provider struct {
	privatePEM string
	publicPEM  string

	once    sync.Once
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	err     error
}

// NewProvider wraps raw PEM material. Environment values with literal "\n"
// escapes are accepted since deploy tooling commonly flattens multiline keys.
func NewProvider(privatePEM, publicPEM string) *Provider {
	return &Provider{
		privatePEM: normalizePEM(privatePEM),
		publicPEM:  normalizePEM(publicPEM),
	}
}

// Load forces the key import eagerly so the process can fail before serving.
func (p *Provider) Load() error {
	p.load()
	return p.err
}

// SigningKey returns the cached private key, importing on first use.
func (p *Provider) SigningKey() (*rsa.PrivateKey, error) {
	p.load()
	if p.err != nil {
		return nil, p.err
	}
	return p.private, nil
}

// VerifyKey returns the cached public key, importing on first use.
func (p *Provider) VerifyKey() (*rsa.PublicKey, error) {
	p.load()
	if p.err != nil {
		return nil, p.err
	}
	return p.public, nil
}

func (p *Provider) load() {
	p.once.Do(func() {
		if p.privatePEM == "" || p.publicPEM == "" {
			p.err = ErrMissingKeyMaterial
			return
		}
		private, err := parseRSAPrivateKey(p.privatePEM)
		if err != nil {
			p.err = fmt.Errorf("%w: private key: %v", ErrMalformedKey, err)
			return
		}
		public, err := parseRSAPublicKey(p.publicPEM)
		if err != nil {
			p.err = fmt.Errorf("%w: public key: %v", ErrMalformedKey, err)
			return
		}
		p.private = private
		p.public = public
	})
}

func normalizePEM(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.ReplaceAll(raw, `\n`, "\n")
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}

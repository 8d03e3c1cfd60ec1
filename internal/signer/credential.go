package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

//go:embed default.pem
var defaultPEM []byte

// ErrSigning is returned for every failure to produce a package signature.
var ErrSigning = errors.New("signing failed")

// Credential is a private key with the certificate chain that vouches for it.
type Credential struct {
	Key   crypto.Signer
	Chain []*x509.Certificate
}

// NewCredential checks that key is supported and matches the leaf certificate.
func NewCredential(key any, chain []*x509.Certificate) (*Credential, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no certificate", ErrSigning)
	}
	var signer crypto.Signer
	switch k := key.(type) {
	case *rsa.PrivateKey:
		signer = k
	case *ecdsa.PrivateKey:
		signer = k
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrSigning, key)
	}

	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(chain[0].PublicKey) {
		return nil, fmt.Errorf("%w: private key does not match certificate %q", ErrSigning, chain[0].Subject.CommonName)
	}
	return &Credential{Key: signer, Chain: chain}, nil
}

// DefaultCredential returns the built-in credential.
func DefaultCredential() (*Credential, error) {
	return parsePEMCredential(defaultPEM, "")
}

// LoadPKCS12 reads a PKCS#12 keystore. The key password is tried when the
// store password does not open it. PKCS#12 files carry a single key entry,
// so alias only names it in errors.
func LoadPKCS12(path, storePassword, alias, keyPassword string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read keystore: %w", ErrSigning, err)
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(data, storePassword)
	if err != nil && keyPassword != "" && keyPassword != storePassword {
		key, cert, caCerts, err = pkcs12.DecodeChain(data, keyPassword)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open key %q in %s: %w", ErrSigning, alias, path, err)
	}
	return NewCredential(key, append([]*x509.Certificate{cert}, caCerts...))
}

// LoadPEM reads a file holding a private key followed by its certificates.
func LoadPEM(path, passphrase string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read key file: %w", ErrSigning, err)
	}
	return parsePEMCredential(data, passphrase)
}

func parsePEMCredential(data []byte, passphrase string) (*Credential, error) {
	var (
		key   any
		chain []*x509.Certificate
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to parse certificate: %w", ErrSigning, err)
			}
			chain = append(chain, cert)
			continue
		}
		if key != nil {
			continue
		}

		der := block.Bytes
		// Check if key is encrypted
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy keys only come this way
			if passphrase == "" {
				return nil, fmt.Errorf("%w: key is encrypted but no passphrase provided", ErrSigning)
			}
			decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("%w: failed to decrypt key: %w", ErrSigning, err)
			}
			der = decrypted
		}

		k, err := parsePrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSigning, err)
		}
		key = k
	}

	if key == nil {
		return nil, fmt.Errorf("%w: no private key found", ErrSigning)
	}
	return NewCredential(key, chain)
}

// parsePrivateKey tries PKCS1, PKCS8 and SEC 1 encodings
func parsePrivateKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

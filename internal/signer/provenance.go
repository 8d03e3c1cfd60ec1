package signer

import (
	"crypto"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/ralt/opatch/internal/utils"
)

// PGPSigner writes detached OpenPGP signatures next to patched packages.
type PGPSigner struct {
	entity *openpgp.Entity
}

// NewPGPSigner creates a new PGP signer from a private key file
func NewPGPSigner(keyPath, passphrase string) (*PGPSigner, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is empty")
	}

	// Read private key file
	keyFile, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	defer keyFile.Close()

	// Try to parse as armored key first
	entityList, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		// Try as binary key
		if _, err := keyFile.Seek(0, 0); err != nil {
			return nil, fmt.Errorf("failed to rewind key file: %w", err)
		}
		entityList, err = openpgp.ReadKeyRing(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
	}

	if len(entityList) == 0 {
		return nil, fmt.Errorf("no keys found in key file")
	}

	entity := entityList[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("key file holds no private key")
	}

	// Decrypt private key if passphrase provided
	if passphrase != "" {
		if entity.PrivateKey.Encrypted {
			if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}

		// Decrypt subkeys as well
		for _, subkey := range entity.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("failed to decrypt subkey: %w", err)
				}
			}
		}
	} else if entity.PrivateKey.Encrypted {
		return nil, fmt.Errorf("key is encrypted but no passphrase provided")
	}

	return &PGPSigner{entity: entity}, nil
}

// SignFile writes an armored detached signature of path to path + ".asc"
// and returns the signature path.
func (s *PGPSigner) SignFile(path string) (string, error) {
	ascPath := path + ".asc"
	if err := s.SignTo(path, ascPath); err != nil {
		return "", err
	}
	return ascPath, nil
}

// SignTo writes an armored detached signature of path to ascPath. Nothing
// is left at ascPath on failure.
func (s *PGPSigner) SignTo(path, ascPath string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	out, err := os.Create(ascPath)
	if err != nil {
		return fmt.Errorf("failed to create signature file: %w", err)
	}

	err = openpgp.ArmoredDetachSign(out, s.entity, f, &packet.Config{
		DefaultHash: crypto.SHA512,
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = utils.RemoveIfExists(ascPath)
		return fmt.Errorf("failed to create detached signature: %w", err)
	}
	return nil
}

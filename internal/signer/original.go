package signer

import (
	"encoding/hex"
	"fmt"

	"github.com/avast/apkverifier"
)

// OriginalSignature returns the hex encoded DER of the first signer
// certificate of the package at path.
func OriginalSignature(path string) (string, error) {
	certs, err := apkverifier.ExtractCerts(path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to extract signer certificates: %w", err)
	}
	if len(certs) == 0 || len(certs[0]) == 0 {
		return "", fmt.Errorf("package at %s is not signed", path)
	}
	return hex.EncodeToString(certs[0][0].Raw), nil
}

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes a payload's canonical JSON form. encoding/json sorts map
// keys, so equal maps always produce equal fingerprints.
func Fingerprint(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint payload: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(raw)), nil
}

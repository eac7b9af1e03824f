package checkpoint

import "crypto/sha256"

func computeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func validateChecksum(computed, stored [32]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}

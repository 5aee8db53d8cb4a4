package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashWindow fingerprints conversation text so the reflection job can skip
// re-running extraction when nothing has changed since the last tick.
func hashWindow(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"assistgate/internal/domain"
)

// Key derives the deterministic cache key for a suggestion request.
// Two requests produce the same key exactly when row, task, query,
// selection and context hash all match. Pure function: no randomness,
// no time component, stable across process restarts.
func Key(k domain.SuggestionKey) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s",
		k.RowID, k.Task, k.Query, k.Selection, k.ContextHash)
	return hex.EncodeToString(h.Sum(nil))
}

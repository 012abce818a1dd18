// Package pricing parses archive documents and extracts canonical
// per-category cheapest prices.
package pricing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// maxRepairChars bounds reconstruction of a corrupted document. Archive
// documents are well under this size; anything larger is reported
// unrepairable rather than buffered without bound.
const maxRepairChars = 1 << 20

// Reassemble detects the character-array corruption pattern: an object whose
// keys are stringified sequential integers holding one character each, the
// residue of a document serialized character-by-character. It returns the
// reconstructed JSON text and true when repair happened, the input untouched
// and false when the input is not the pattern, and ErrUnrepairable when the
// pattern is present but the reconstruction is not valid JSON.
func Reassemble(raw []byte) ([]byte, bool, error) {
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw, false, nil
	}
	if !looksCorrupted(fields) {
		return raw, false, nil
	}

	var b strings.Builder
	for i := 0; ; i++ {
		ch, ok := fields[strconv.Itoa(i)]
		if !ok {
			break
		}
		if b.Len()+len(ch) > maxRepairChars {
			return nil, false, fmt.Errorf("repair exceeds %d bytes: %w", maxRepairChars, pricesync.ErrUnrepairable)
		}
		b.WriteString(ch)
	}

	repaired := []byte(b.String())
	if !json.Valid(repaired) {
		return nil, false, fmt.Errorf("reassembled text is not JSON: %w", pricesync.ErrUnrepairable)
	}
	return repaired, true, nil
}

// looksCorrupted requires every key to be a sequential index starting at
// "0" and every value to be a single character.
func looksCorrupted(fields map[string]string) bool {
	if len(fields) == 0 {
		return false
	}
	for key, value := range fields {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(fields) {
			return false
		}
		if utf8.RuneCountInString(value) != 1 {
			return false
		}
	}
	return true
}

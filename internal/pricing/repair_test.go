package pricing

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// corrupt serializes text in the character-array form produced by the
// upstream bug.
func corrupt(t *testing.T, text string) []byte {
	t.Helper()
	fields := make(map[string]string)
	for i, r := range []rune(text) {
		fields[strconv.Itoa(i)] = string(r)
	}
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

func TestReassemble_RepairsCorruptedDocument(t *testing.T) {
	t.Parallel()

	original := `{"lineid":22,"name":"7 Night Caribbean","cheapestinside":"1299.50"}`
	repaired, didRepair, err := Reassemble(corrupt(t, original))
	require.NoError(t, err)
	require.True(t, didRepair)
	require.JSONEq(t, original, string(repaired))
}

func TestReassemble_LeavesHealthyDocumentAlone(t *testing.T) {
	t.Parallel()

	original := []byte(`{"lineid":22,"shipid":180}`)
	out, didRepair, err := Reassemble(original)
	require.NoError(t, err)
	require.False(t, didRepair)
	require.Equal(t, original, out)
}

func TestReassemble_SingleCharacterDocument(t *testing.T) {
	t.Parallel()

	// The smallest possible corrupted payload: one character. "7" alone is
	// valid JSON after reassembly.
	out, didRepair, err := Reassemble([]byte(`{"0":"7"}`))
	require.NoError(t, err)
	require.True(t, didRepair)
	require.Equal(t, []byte("7"), out)
}

func TestReassemble_RejectsOversizedReconstruction(t *testing.T) {
	t.Parallel()

	// Four-byte runes hit the byte cap with a quarter of the entries a
	// single-byte fixture would need.
	entries := maxRepairChars/4 + 1
	fields := make(map[string]string, entries)
	for i := 0; i < entries; i++ {
		fields[strconv.Itoa(i)] = "\U0001D11E"
	}
	raw, err := json.Marshal(fields)
	require.NoError(t, err)

	out, didRepair, err := Reassemble(raw)
	require.ErrorIs(t, err, pricesync.ErrUnrepairable)
	require.False(t, didRepair)
	require.Nil(t, out)
}

func TestReassemble_NotThePatternWhenKeysAreNotSequential(t *testing.T) {
	t.Parallel()

	for name, raw := range map[string]string{
		"gap in indexes":     `{"0":"a","2":"b"}`,
		"non-numeric key":    `{"0":"a","name":"b"}`,
		"multi-char value":   `{"0":"ab","1":"c"}`,
		"empty object":       `{}`,
		"string values only": `{"currency":"USD","name":"x"}`,
	} {
		out, didRepair, err := Reassemble([]byte(raw))
		require.NoError(t, err, name)
		require.False(t, didRepair, name)
		require.Equal(t, []byte(raw), out, name)
	}
}

func TestReassemble_UnrepairableWhenReassemblyIsNotJSON(t *testing.T) {
	t.Parallel()

	// Sequential single characters that do not form a JSON document.
	_, _, err := Reassemble(corrupt(t, "hello"))
	require.ErrorIs(t, err, pricesync.ErrUnrepairable)
}

func TestReassemble_UnicodeSurvivesRepair(t *testing.T) {
	t.Parallel()

	original := `{"name":"Fjord Crucero — Ålesund"}`
	repaired, didRepair, err := Reassemble(corrupt(t, original))
	require.NoError(t, err)
	require.True(t, didRepair)
	require.JSONEq(t, original, string(repaired))
}

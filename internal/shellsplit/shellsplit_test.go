package shellsplit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitBasic(t *testing.T) {
	tokens, err := Split("sleep 30")
	require.NoError(t, err)
	require.Equal(t, []string{"sleep", "30"}, tokens)
}

func TestSplitQuoted(t *testing.T) {
	tokens, err := Split(`python -c 'import time; time.sleep(60)'`)
	require.NoError(t, err)
	require.Equal(t, []string{"python", "-c", "import time; time.sleep(60)"}, tokens)
}

func TestSplitDoubleQuoteEscape(t *testing.T) {
	tokens, err := Split(`echo "hello \"world\""`)
	require.NoError(t, err)
	require.Equal(t, []string{"echo", `hello "world"`}, tokens)
}

func TestSplitEmpty(t *testing.T) {
	tokens, err := Split("   ")
	require.NoError(t, err)
	require.Empty(t, tokens)
}

func TestSplitUnterminatedQuote(t *testing.T) {
	_, err := Split(`echo 'oops`)
	require.Error(t, err)
}

func TestSplitTrailingBackslash(t *testing.T) {
	_, err := Split(`echo \`)
	require.Error(t, err)
}

func TestJoinRoundTrip(t *testing.T) {
	tokens := []string{"python", "-c", "import time; time.sleep(60)"}
	joined := Join(tokens)
	got, err := Split(joined)
	require.NoError(t, err)
	require.Equal(t, tokens, got)
}

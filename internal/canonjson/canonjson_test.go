package canonjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysAndDisablesHTMLEscaping(t *testing.T) {
	data, err := Marshal(map[string]any{
		"zeta":  1,
		"alpha": "<tag>&",
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":"<tag>&","zeta":1}`, string(data))
}

func TestMarshalTrimsTrailingNewline(t *testing.T) {
	data, err := Marshal(map[string]any{"a": 1})
	require.NoError(t, err)
	require.NotContains(t, string(data), "\n")
}

func TestUnmarshalPreservesUnknownFields(t *testing.T) {
	out, err := Unmarshal([]byte(`{"known":1,"future_field":"x"}`))
	require.NoError(t, err)
	require.Equal(t, "x", out["future_field"])
}

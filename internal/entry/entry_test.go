package entry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceTag(t *testing.T) {
	t.Parallel()
	require.Equal(t, "[api-3 (out)]", SourceTag("api", 3, "out"))
	require.Equal(t, "[worker-0 (err)]", SourceTag("worker", 0, "err"))
}

func TestFormatTime(t *testing.T) {
	t.Parallel()
	require.Equal(t, "2023-11-14T22:13:20.000Z", FormatTime(1700000000))
	require.Equal(t, "2023-11-14T22:13:20.250Z", FormatTime(1700000000.25))
	require.Equal(t, "2023-11-14T22:13:20.123Z", FormatTime(1700000000.123))
	require.Equal(t, "2023-11-14T22:13:20.001Z", FormatTime(1700000000.001))
	require.Equal(t, "2023-11-14T22:13:20.999Z", FormatTime(1700000000.999))
	require.Equal(t, "1970-01-01T00:00:00.000Z", FormatTime(0))
}

func TestParseCompleteRecord(t *testing.T) {
	t.Parallel()
	e, err := Parse([]byte(`{"name":"api","hostname":"web-1","pid":99,"level":30,"time":"2023-11-14T22:13:20.000Z","msg":"hi","v":0}`))
	require.NoError(t, err)
	require.Equal(t, Entry{
		Name:     "api",
		Hostname: "web-1",
		PID:      99,
		Level:    LevelInfo,
		Time:     "2023-11-14T22:13:20.000Z",
		Msg:      "hi",
		V:        0,
	}, e)
	require.True(t, e.HasPID())
}

func TestParseKeepsExtraFields(t *testing.T) {
	t.Parallel()
	e, err := Parse([]byte(`{"msg":"hi","req":{"method":"GET"},"latency":12}`))
	require.NoError(t, err)
	require.Equal(t, "hi", e.Msg)
	require.Len(t, e.Extra, 2)
	require.JSONEq(t, `{"method":"GET"}`, string(e.Extra["req"]))
	require.JSONEq(t, `12`, string(e.Extra["latency"]))
}

func TestParseIgnoresIncomingSourceTag(t *testing.T) {
	t.Parallel()
	e, err := Parse([]byte(`{"msg":"hi","source_tag":"[forged-1 (out)]"}`))
	require.NoError(t, err)
	require.Empty(t, e.SourceTag)
	require.NotContains(t, e.Extra, FieldSourceTag)
}

func TestParseWrongTypesAreGaps(t *testing.T) {
	t.Parallel()
	e, err := Parse([]byte(`{"pid":"?","level":"info","name":7,"msg":"x"}`))
	require.NoError(t, err)
	require.False(t, e.HasPID())
	require.Zero(t, e.Level)
	require.Empty(t, e.Name)
	require.Equal(t, "x", e.Msg)
}

func TestParseRejectsNonObjects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`plain text`, `42`, `"quoted"`, `[1,2]`, `null`, ``, `{"msg":`} {
		_, err := Parse([]byte(in))
		require.ErrorIs(t, err, ErrNotObject, "input %q", in)
	}
}

func TestMarshal(t *testing.T) {
	t.Parallel()
	e := Entry{
		Name:      "api",
		Hostname:  "web-1",
		PID:       1234,
		Level:     LevelError,
		Time:      "2023-11-14T22:13:20.000Z",
		Msg:       "boom",
		SourceTag: "[api-3 (err)]",
		Extra:     map[string]json.RawMessage{"err": json.RawMessage(`{"code":"E1"}`)},
	}
	b, err := Marshal(e)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"name":"api","hostname":"web-1","pid":1234,"level":40,
		"time":"2023-11-14T22:13:20.000Z","msg":"boom","v":0,
		"source_tag":"[api-3 (err)]","err":{"code":"E1"}
	}`, string(b))
	require.NotContains(t, string(b), "\n")
}

func TestMarshalKnownFieldsWinOverExtra(t *testing.T) {
	t.Parallel()
	e := Entry{Msg: "real", Extra: map[string]json.RawMessage{"msg": json.RawMessage(`"shadow"`)}}
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, "real", got["msg"])
}

func TestParseMarshalPreservesInput(t *testing.T) {
	t.Parallel()
	in := `{"name":"api","hostname":"h","pid":5,"level":20,"time":"t","msg":"m","v":0,"component":"db"}`
	e, err := Parse([]byte(in))
	require.NoError(t, err)
	e.SourceTag = "[api-1 (out)]"

	out, err := Marshal(e)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"api","hostname":"h","pid":5,"level":20,"time":"t","msg":"m","v":0,"component":"db","source_tag":"[api-1 (out)]"}`, string(out))
}

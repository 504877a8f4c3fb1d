package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeSpelledOutKeys(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(`{"channel":"out","process":{"name":"api","instanceId":3,"pidFilePath":"/tmp/p"},"data":"{\"msg\":\"hi\"}","at":1700000000}`))
	require.NoError(t, err)
	require.Equal(t, "out", ev.Channel)
	require.Equal(t, ProcessMeta{Name: "api", InstanceID: 3, PIDFilePath: "/tmp/p"}, ev.Process)
	require.JSONEq(t, `"{\"msg\":\"hi\"}"`, string(ev.Data))
	require.Nil(t, ev.Str)
	require.Equal(t, float64(1700000000), ev.At)
}

func TestDecodePM2Keys(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(`{"event":"log:err","process":{"name":"worker","pm_id":7,"pm_pid_path":"/home/u/.pm2/pids/worker-7.pid"},"data":{"str":"oops\n"},"at":1.5}`))
	require.NoError(t, err)
	require.Equal(t, "err", ev.Channel)
	require.Equal(t, 7, ev.Process.InstanceID)
	require.Equal(t, "/home/u/.pm2/pids/worker-7.pid", ev.Process.PIDFilePath)
	require.JSONEq(t, `{"str":"oops\n"}`, string(ev.Data))
	require.Equal(t, 1.5, ev.At)
}

func TestDecodeTopLevelStr(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(`{"channel":"out","process":{"name":"a"},"str":"hello","at":1}`))
	require.NoError(t, err)
	require.Nil(t, ev.Data)
	require.NotNil(t, ev.Str)
	require.Equal(t, "hello", *ev.Str)
}

func TestDecodeExplicitChannelWins(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(`{"event":"log:out","channel":"custom","process":{"name":"a"},"data":"x"}`))
	require.NoError(t, err)
	require.Equal(t, "custom", ev.Channel)
}

func TestDecodeRejectsNonLogEvents(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"event":"process:event","process":{"name":"a"}}`))
	require.ErrorIs(t, err, ErrNotLog)
}

func TestDecodeRequiresChannel(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"process":{"name":"a"},"data":"x"}`))
	require.ErrorIs(t, err, ErrNoChannel)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"channel":`))
	require.Error(t, err)
}

func TestDecodeMissingDataIsNotAnError(t *testing.T) {
	t.Parallel()
	// Absence is reported by the sanitizer, not by the decoder.
	ev, err := Decode([]byte(`{"channel":"out","process":{"name":"a"},"at":1}`))
	require.NoError(t, err)
	require.Nil(t, ev.Data)
	require.Nil(t, ev.Str)
}

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		Event{Job: "web", Event: EventStarted},
		Event{Job: "", Event: EventTerminating},
		Command{Job: "web", Command: CommandStart},
		Command{Command: CommandJobList},
		Command{Job: "web", Command: CommandLogs, N: 50},
		Success{Job: "web"},
		Failure{Job: "web", Reason: ReasonNoSuchJob},
		Status{Job: "web", IsRunning: true, ExitCode: -1, StartCount: 3},
		JobList{AllJobs: map[string]bool{"web": true, "db": false}},
		LogLines{Job: "web", Lines: []string{"a", "b"}},
	}

	for _, m := range cases {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, m))

		got, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	body := []byte(`{"type":99,"job":"x"}`)
	var hdr [4]byte
	putLen(hdr[:], len(body))

	_, err := Decode(bytes.NewReader(append(hdr[:], body...)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeShortRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Success{Job: "x"}))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := Decode(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
}

func TestDecodeUnknownField(t *testing.T) {
	body := []byte(`{"type":2,"job":"x","extra":true}`)
	var hdr [4]byte
	putLen(hdr[:], len(body))

	_, err := Decode(bytes.NewReader(append(hdr[:], body...)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

package tooladapter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte(`{"a":1}`)))
	require.NoError(t, writeFrame(&buf, []byte(`{"b":"two"}`)))

	r := bufio.NewReader(&buf)
	first, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	second, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"two"}`, string(second))

	_, err = readFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameIgnoresExtraHeaders(t *testing.T) {
	in := "Content-Type: application/json\r\ncontent-length: 4\r\n\r\nping"
	payload, err := readFrame(bufio.NewReader(strings.NewReader(in)))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(payload))
}

func TestReadFrameMissingLength(t *testing.T) {
	in := "Content-Type: application/json\r\n\r\n{}"
	_, err := readFrame(bufio.NewReader(strings.NewReader(in)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Content-Length")
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	for _, in := range []string{
		"Content-Length: nope\r\n\r\n",
		"Content-Length: -3\r\n\r\n",
		fmt.Sprintf("Content-Length: %d\r\n\r\n", maxFrameSize+1),
	} {
		_, err := readFrame(bufio.NewReader(strings.NewReader(in)))
		assert.Error(t, err, "input %q", in)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	in := "Content-Length: 10\r\n\r\nabc"
	_, err := readFrame(bufio.NewReader(strings.NewReader(in)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestReadFrameMalformedHeaderLine(t *testing.T) {
	in := "not a header\r\n\r\n"
	_, err := readFrame(bufio.NewReader(strings.NewReader(in)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

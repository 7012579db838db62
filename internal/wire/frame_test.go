package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairEncoding(t *testing.T) {
	f, err := Pair("page_content", []string{"aGVsbG8=", "abc123"})
	require.NoError(t, err)
	assert.Equal(t, KindJSON, f.Kind)
	assert.JSONEq(t, `["page_content",["aGVsbG8=","abc123"]]`, string(f.Payload))
}

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	frames := []Frame{
		{Kind: KindJSON, Payload: []byte(`"Browser-3"`)},
		{Kind: KindText, Payload: []byte("42")},
		{Kind: KindBytes, Payload: []byte{0, 1, 2, 0xff}},
		{Kind: KindJSON, Payload: []byte{}},
	}
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}

	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Payload, got.Payload)
	}

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Kind: KindJSON, Payload: []byte("[1]")}))
	raw := buf.Bytes()
	require.Len(t, raw, HeaderSize+3)
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(raw[:4]))
	assert.Equal(t, byte('j'), raw[4])
}

func TestReadFrameErrors(t *testing.T) {
	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 9, 'j', '1'}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 1, 'x', '1'}))
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("too large", func(t *testing.T) {
		hdr := make([]byte, HeaderSize)
		binary.BigEndian.PutUint32(hdr, MaxPayload+1)
		hdr[4] = 'n'
		_, err := ReadFrame(bytes.NewReader(hdr))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	_, err := Frame{Kind: 'z'}.Encode(nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPairRejectsOversizedPayload(t *testing.T) {
	_, err := Pair("page_content", [2]string{strings.Repeat("a", MaxPayload), "hash"})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Frame{Kind: KindText, Payload: []byte("ok")}.Validate())
	assert.ErrorIs(t, Frame{Kind: KindBytes, Payload: make([]byte, MaxPayload+1)}.Validate(), ErrFrameTooLarge)
	assert.ErrorIs(t, Frame{Kind: 'x'}.Validate(), ErrUnknownKind)
}

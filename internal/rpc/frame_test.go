package rpc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	req := Request{
		Kind: ReqAdd,
		New: &NewTask{
			Command: "echo hello",
			Path:    "/tmp",
			Group:   "default",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	var got Request
	require.NoError(t, ReadFrame(&buf, &got, nil))
	require.Equal(t, req.Kind, got.Kind)
	require.Equal(t, req.New.Command, got.New.Command)
	require.Equal(t, req.New.Path, got.New.Path)
}

func TestWriteReadFrameChunksLargePayloads(t *testing.T) {
	resp := Response{Kind: RespStream, Chunk: bytes.Repeat([]byte("x"), writeChunkSize*3+17)}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, resp))

	var got Response
	require.NoError(t, ReadFrame(&buf, &got, nil))
	require.Equal(t, resp.Chunk, got.Chunk)
}

func TestReadFrameShortHeaderIsConnectionClosed(t *testing.T) {
	r := strings.NewReader("\x00\x00\x00")
	var out Response
	err := ReadFrame(r, &out, nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadFrameShortPayloadIsConnectionClosed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Response{Kind: RespSuccess, Text: "ok"}))
	truncated := buf.Bytes()[:buf.Len()-2]

	var out Response
	err := ReadFrame(bytes.NewReader(truncated), &out, nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

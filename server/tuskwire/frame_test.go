package tuskwire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.Send(Request{ID: 42, Op: OpCancel, QueryID: "abc"}))
	require.NoError(t, w.Send(Response{ID: 42, Kind: KindResult, Found: true}))

	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	require.NotEqual(t, byte('\n'), buf.Bytes()[4+n-1])

	r := NewFrameReader(&buf)
	req, err := r.Request()
	require.NoError(t, err)
	require.Equal(t, uint64(42), req.ID)
	require.Equal(t, OpCancel, req.Op)
	require.Equal(t, "abc", req.QueryID)

	resp, err := r.Response()
	require.NoError(t, err)
	require.True(t, resp.Found)

	_, err = r.Request()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrame_KeepsSQLUnescaped(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFrameWriter(&buf).Send(Request{SQL: "SELECT 1 WHERE a < b && c > d"}))
	require.Contains(t, buf.String(), "a < b && c > d")
}

func TestFrame_ConcurrentSendsDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Send(Request{ID: uint64(i), SQL: strings.Repeat("x", 1000)})
		}()
	}
	wg.Wait()

	r := NewFrameReader(&buf)
	seen := make(map[uint64]bool)
	for range 20 {
		req, err := r.Request()
		require.NoError(t, err)
		require.Len(t, req.SQL, 1000)
		seen[req.ID] = true
	}
	require.Len(t, seen, 20)
}

func TestFrame_Rejects(t *testing.T) {
	_, err := NewFrameReader(bytes.NewReader([]byte{0, 0, 0, 0})).Request()
	require.ErrorIs(t, err, ErrEmptyFrame)

	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, MaxFrameSize+1)
	_, err = NewFrameReader(bytes.NewReader(hdr)).Request()
	require.ErrorIs(t, err, ErrFrameTooLarge)

	body := []byte("{nope")
	frame := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	_, err = NewFrameReader(bytes.NewReader(append(frame, body...))).Request()
	require.ErrorContains(t, err, "bad json")

	truncated := binary.BigEndian.AppendUint32(nil, 10)
	_, err = NewFrameReader(bytes.NewReader(append(truncated, "{}"...))).Request()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = NewFrameWriter(io.Discard).Send(Request{SQL: strings.Repeat("x", MaxFrameSize)})
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeParams(t *testing.T) {
	require.Nil(t, decodeParams(nil))

	one := "1"
	got := decodeParams([]*string{&one, nil})
	require.Equal(t, []any{"1", nil}, got)
}

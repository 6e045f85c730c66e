package tuskwire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxFrameSize bounds one frame body. Larger frames are rejected before
	// their body is read.
	MaxFrameSize = 16 << 20

	headerSize = 4

	// reuseLimit is the largest buffer a reader or writer keeps between
	// frames. A rare huge result should not pin its memory on the connection.
	reuseLimit = 256 << 10
)

var (
	ErrEmptyFrame    = errors.New("tuskwire: empty frame")
	ErrFrameTooLarge = errors.New("tuskwire: frame too large")
)

// FrameReader decodes the frames of one connection: a big-endian uint32 body
// length followed by a JSON body. A connection has a single reader goroutine,
// so FrameReader is not safe for concurrent use.
type FrameReader struct {
	r   *bufio.Reader
	buf []byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Request reads the next frame as a request.
func (fr *FrameReader) Request() (Request, error) {
	var req Request
	err := fr.read(&req)
	return req, err
}

// Response reads the next frame as a response.
func (fr *FrameReader) Response() (Response, error) {
	var resp Response
	err := fr.read(&resp)
	return resp, err
}

func (fr *FrameReader) read(v any) error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	switch {
	case n == 0:
		return ErrEmptyFrame
	case n > MaxFrameSize:
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, MaxFrameSize)
	}

	body := fr.body(int(n))
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("tuskwire: bad json: %w", err)
	}
	return nil
}

func (fr *FrameReader) body(n int) []byte {
	if n <= cap(fr.buf) {
		return fr.buf[:n]
	}
	b := make([]byte, n)
	if n <= reuseLimit {
		fr.buf = b
	}
	return b
}

// FrameWriter encodes frames onto one connection. Every frame goes out in a
// single Write and concurrent senders are serialized, so the frames of
// interleaved requests never mix.
type FrameWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Send writes v as one frame. SQL text is sent without HTML escaping.
func (fw *FrameWriter) Send(v any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	defer func() {
		if fw.buf.Cap() > reuseLimit {
			fw.buf = bytes.Buffer{}
		}
	}()

	fw.buf.Reset()
	fw.buf.Write(make([]byte, headerSize))

	enc := json.NewEncoder(&fw.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("tuskwire: marshal: %w", err)
	}

	// Encode terminates the document with a newline; the length prefix
	// already delimits it.
	frame := bytes.TrimSuffix(fw.buf.Bytes(), []byte{'\n'})
	n := len(frame) - headerSize
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, MaxFrameSize)
	}
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(n))

	_, err := fw.w.Write(frame)
	return err
}

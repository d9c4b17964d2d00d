// Package stdio carries bridge calls over a byte stream (typically a child
// process' stdin/stdout) as length-prefixed CBOR frames.
package stdio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/goliatone/go-sonarfit/rpc"
)

// FrameType discriminates frames on the wire.
type FrameType uint8

const (
	FrameHello FrameType = 1
	FrameCall  FrameType = 2
	FrameReply FrameType = 3
	FrameError FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameCall:
		return "call"
	case FrameReply:
		return "reply"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

// ProtocolVersion is announced in both hello frames.
const ProtocolVersion = 1

// DefaultMaxFrame bounds a single encoded frame.
const DefaultMaxFrame = 16 << 20

// Frame is the single message shape exchanged on the stream.
type Frame struct {
	Type      FrameType             `cbor:"type"`
	ID        string                `cbor:"id,omitempty"`
	Version   int                   `cbor:"version,omitempty"`
	Channel   string                `cbor:"channel,omitempty"`
	Endpoints []rpc.Endpoint        `cbor:"endpoints,omitempty"`
	Method    string                `cbor:"method,omitempty"`
	Payload   cbor.RawMessage       `cbor:"payload,omitempty"`
	Reply     *rpc.ResponseEnvelope `cbor:"reply,omitempty"`
	Error     *rpc.Error            `cbor:"error,omitempty"`
}

var (
	encMode = mustEncMode()
	// maps decode with string keys so payloads look like JSON ones
	decMode = mustDecMode()
	// fallback for payload maps with non-string keys
	genericDecMode = mustGenericDecMode()
)

// ErrEmptyFrame is returned for a zero length frame.
var ErrEmptyFrame = errors.New("empty frame")

// FrameDecodeError reports a frame that was read whole but could not be
// decoded. The stream is still aligned on the next frame.
type FrameDecodeError struct {
	Err error
}

func (e *FrameDecodeError) Error() string {
	return "decode frame: " + e.Err.Error()
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}

func mustEncMode() cbor.EncMode {
	mode, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

func mustGenericDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[any]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// EncodeFrame encodes frame to CBOR bytes.
func EncodeFrame(frame *Frame) ([]byte, error) {
	return encMode.Marshal(frame)
}

// DecodeFrame decodes CBOR bytes into a frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := decMode.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// EncodePayload encodes a call payload. A nil payload encodes as CBOR null.
func EncodePayload(payload any) (cbor.RawMessage, error) {
	return encMode.Marshal(payload)
}

// DecodePayload decodes a call payload. Maps decode with string keys; a map
// holding other keys decodes as map[any]any so the handler can reject it.
// An absent payload is nil.
func DecodePayload(raw cbor.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload any
	if err := decMode.Unmarshal(raw, &payload); err == nil {
		return payload, nil
	}
	payload = nil
	if err := genericDecMode.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FrameReader reads length-prefixed CBOR frames from a stream.
type FrameReader struct {
	reader   io.Reader
	maxFrame int
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: r, maxFrame: DefaultMaxFrame}
}

// ReadFrame reads a single frame. io.EOF is returned untouched when the
// stream ends between frames. Frames that are empty or fail to decode come
// back as *FrameDecodeError.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	// 4-byte big-endian length prefix
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, &FrameDecodeError{Err: ErrEmptyFrame}
	}
	if int64(length) > int64(fr.maxFrame) {
		return nil, fmt.Errorf("frame size %d exceeds max frame %d", length, fr.maxFrame)
	}

	frameBuf := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, frameBuf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	frame, err := DecodeFrame(frameBuf)
	if err != nil {
		return nil, &FrameDecodeError{Err: err}
	}
	return frame, nil
}

// FrameWriter writes length-prefixed CBOR frames. It is safe for concurrent
// use; frames are never interleaved.
type FrameWriter struct {
	mu       sync.Mutex
	writer   io.Writer
	maxFrame int
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{writer: w, maxFrame: DefaultMaxFrame}
}

func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	frameBuf, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if len(frameBuf) > fw.maxFrame {
		return fmt.Errorf("encoded frame size %d exceeds max frame %d", len(frameBuf), fw.maxFrame)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(frameBuf)))

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.writer.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = fw.writer.Write(frameBuf)
	return err
}

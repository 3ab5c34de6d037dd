package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

var (
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownPacket    = errors.New("unknown packet type")
)

// IsProtocolFault reports whether err came from a frame the peer should
// never have sent: an oversized declared length, a fixed-size payload with
// the wrong length, or an undecodable payload. Protocol faults end the
// session; they are never retried.
func IsProtocolFault(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrUnknownPacket)
}

// Frame is one complete type+length+payload unit. Payload is nil for
// frames of unknown type, whose bytes were skipped rather than buffered.
type Frame struct {
	Type    PacketType
	Payload []byte
}

// Limits bounds the payload length a reader will accept per packet type.
// Zero fields fall back to the package defaults.
type Limits struct {
	MaxScreen    uint32
	MaxClipboard uint32
	MaxUnknown   uint32
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxScreen:    DefaultMaxScreenSize,
		MaxClipboard: DefaultMaxClipboardSize,
		MaxUnknown:   DefaultMaxUnknownSize,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxScreen == 0 {
		l.MaxScreen = d.MaxScreen
	}
	if l.MaxClipboard == 0 {
		l.MaxClipboard = d.MaxClipboard
	}
	if l.MaxUnknown == 0 {
		l.MaxUnknown = d.MaxUnknown
	}
	return l
}

// Check validates a declared payload length against the limit for t.
// Fixed-size packets must declare exactly their size.
func (l Limits) Check(t PacketType, length uint32) error {
	l = l.withDefaults()

	var fixed, max uint32
	switch t {
	case PacketMouse:
		fixed = MouseEventSize
	case PacketKeyboard:
		fixed = KeyboardEventSize
	case PacketScroll:
		fixed = ScrollEventSize
	case PacketClipboard:
		max = l.MaxClipboard
	case PacketScreen:
		max = l.MaxScreen
	default:
		max = l.MaxUnknown
	}

	if fixed != 0 && length != fixed {
		return fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrMalformedPayload, t, length, fixed)
	}
	if max != 0 && length > max {
		return fmt.Errorf("%w: %s payload is %d bytes, limit %d", ErrPayloadTooLarge, t, length, max)
	}
	return nil
}

// --- Encoding ---

func putHeader(dst []byte, t PacketType, length int) {
	dst[0] = byte(t)
	binary.LittleEndian.PutUint32(dst[1:5], uint32(length))
}

// EncodeFrame returns the wire encoding of one frame: type, little-endian
// length, payload.
func EncodeFrame(t PacketType, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, t, len(payload))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteFrame writes one frame to w as a single logical write.
//
// Header and payload go out through net.Buffers so that a net.Conn gets
// one vectored write and large screen images are never copied into an
// intermediate buffer. WriteFrame does not serialize concurrent callers;
// that is the caller's job (see mux.Writer).
func WriteFrame(w io.Writer, t PacketType, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrPayloadTooLarge
	}
	var header [HeaderSize]byte
	putHeader(header[:], t, len(payload))

	bufs := net.Buffers{header[:]}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	_, err := bufs.WriteTo(w)
	return err
}

// --- Decoding ---

// ReadFrameHeader blocks until a full 5-byte header is available.
// Returns io.EOF if the peer closed before sending any header byte and
// io.ErrUnexpectedEOF if it closed partway through the header.
func ReadFrameHeader(r io.Reader) (PacketType, uint32, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, err
	}
	return PacketType(header[0]), binary.LittleEndian.Uint32(header[1:5]), nil
}

// ReadExact reads exactly n bytes from r, retrying short reads. Returns
// io.EOF if the stream ended before the first byte and
// io.ErrUnexpectedEOF if it ended partway. Every payload read in this
// module goes through ReadExact; a single Read call is never enough
// because the transport delivers arbitrary-sized chunks.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Reader decodes frames from a stream, enforcing Limits before any
// payload is allocated.
type Reader struct {
	r      io.Reader
	limits Limits
}

// NewReader returns a frame reader over r.
func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{r: r, limits: limits.withDefaults()}
}

// ReadFrame reads the next complete frame. io.EOF is returned only at a
// frame boundary (clean peer close); a close inside a frame is
// io.ErrUnexpectedEOF. Frames of unknown type are consumed and returned
// with a nil payload so the stream stays aligned.
func (fr *Reader) ReadFrame() (Frame, error) {
	t, length, err := ReadFrameHeader(fr.r)
	if err != nil {
		return Frame{}, err
	}
	if err := fr.limits.Check(t, length); err != nil {
		return Frame{}, err
	}

	if !t.Known() {
		if _, err := io.CopyN(io.Discard, fr.r, int64(length)); err != nil {
			return Frame{}, midFrame(err)
		}
		return Frame{Type: t}, nil
	}

	payload, err := ReadExact(fr.r, int(length))
	if err != nil {
		return Frame{}, midFrame(err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

// midFrame maps a clean EOF seen after the header to ErrUnexpectedEOF:
// the peer went away with a frame half delivered.
func midFrame(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

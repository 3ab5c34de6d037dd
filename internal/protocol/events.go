package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MouseAction is the subtype carried in a MouseEvent.
type MouseAction byte

const (
	MouseMove        MouseAction = 0
	MouseLeftClick   MouseAction = 1
	MouseRightClick  MouseAction = 2
	MouseDoubleClick MouseAction = 3
)

func (a MouseAction) String() string {
	switch a {
	case MouseMove:
		return "move"
	case MouseLeftClick:
		return "left-click"
	case MouseRightClick:
		return "right-click"
	case MouseDoubleClick:
		return "double-click"
	default:
		return fmt.Sprintf("mouse(%d)", byte(a))
	}
}

// KeyState is the transition carried in a KeyboardEvent.
type KeyState byte

const (
	KeyDown KeyState = 0
	KeyUp   KeyState = 1
)

func (s KeyState) String() string {
	switch s {
	case KeyDown:
		return "down"
	case KeyUp:
		return "up"
	default:
		return fmt.Sprintf("key-state(%d)", byte(s))
	}
}

// --- Message types ---

// MouseEvent positions the host pointer and optionally clicks. X and Y are
// in host screen pixels.
type MouseEvent struct {
	Action MouseAction
	X      int16
	Y      int16
}

// KeyboardEvent carries a virtual key code transition.
type KeyboardEvent struct {
	KeyCode byte
	State   KeyState
}

// ScrollEvent carries a signed wheel delta in the host input sink's units.
type ScrollEvent struct {
	Delta int32
}

// ClipboardText carries UTF-8 clipboard contents. Empty text is valid.
type ClipboardText struct {
	Text string
}

// ScreenImage carries one opaque encoded whole-screen image.
type ScreenImage struct {
	Data []byte
}

// --- Encoding ---

// Encode returns the packet type and payload for msg, which may be a
// message value or a pointer to one.
func Encode(msg any) (PacketType, []byte, error) {
	switch m := msg.(type) {
	case MouseEvent:
		return Encode(&m)
	case KeyboardEvent:
		return Encode(&m)
	case ScrollEvent:
		return Encode(&m)
	case ClipboardText:
		return Encode(&m)
	case ScreenImage:
		return Encode(&m)
	case *MouseEvent:
		p := make([]byte, MouseEventSize)
		p[0] = byte(m.Action)
		binary.LittleEndian.PutUint16(p[1:3], uint16(m.X))
		binary.LittleEndian.PutUint16(p[3:5], uint16(m.Y))
		return PacketMouse, p, nil
	case *KeyboardEvent:
		return PacketKeyboard, []byte{m.KeyCode, byte(m.State)}, nil
	case *ScrollEvent:
		p := make([]byte, ScrollEventSize)
		binary.LittleEndian.PutUint32(p, uint32(m.Delta))
		return PacketScroll, p, nil
	case *ClipboardText:
		return PacketClipboard, []byte(m.Text), nil
	case *ScreenImage:
		return PacketScreen, m.Data, nil
	default:
		return 0, nil, fmt.Errorf("unsupported message type: %T", msg)
	}
}

// WriteMessage encodes msg and writes it to w as one frame.
func WriteMessage(w io.Writer, msg any) error {
	t, payload, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, t, payload)
}

// --- Decoding ---

// DecodeMouseEvent decodes a 5-byte mouse payload.
func DecodeMouseEvent(p []byte) (*MouseEvent, error) {
	if len(p) != MouseEventSize {
		return nil, fmt.Errorf("%w: mouse payload is %d bytes", ErrMalformedPayload, len(p))
	}
	return &MouseEvent{
		Action: MouseAction(p[0]),
		X:      int16(binary.LittleEndian.Uint16(p[1:3])),
		Y:      int16(binary.LittleEndian.Uint16(p[3:5])),
	}, nil
}

// DecodeKeyboardEvent decodes a 2-byte keyboard payload.
func DecodeKeyboardEvent(p []byte) (*KeyboardEvent, error) {
	if len(p) != KeyboardEventSize {
		return nil, fmt.Errorf("%w: keyboard payload is %d bytes", ErrMalformedPayload, len(p))
	}
	return &KeyboardEvent{KeyCode: p[0], State: KeyState(p[1])}, nil
}

// DecodeScrollEvent decodes a 4-byte scroll payload.
func DecodeScrollEvent(p []byte) (*ScrollEvent, error) {
	if len(p) != ScrollEventSize {
		return nil, fmt.Errorf("%w: scroll payload is %d bytes", ErrMalformedPayload, len(p))
	}
	return &ScrollEvent{Delta: int32(binary.LittleEndian.Uint32(p))}, nil
}

// Decode converts a frame into its typed message. Unknown packet types
// return ErrUnknownPacket; callers that must stay aligned on unknown
// types (the dispatcher) check Type.Known first.
func Decode(f Frame) (any, error) {
	switch f.Type {
	case PacketMouse:
		return DecodeMouseEvent(f.Payload)
	case PacketKeyboard:
		return DecodeKeyboardEvent(f.Payload)
	case PacketScroll:
		return DecodeScrollEvent(f.Payload)
	case PacketClipboard:
		return &ClipboardText{Text: string(f.Payload)}, nil
	case PacketScreen:
		return &ScreenImage{Data: f.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPacket, byte(f.Type))
	}
}

// ReadMessage reads one frame from r and decodes it.
func ReadMessage(r io.Reader, limits Limits) (any, error) {
	f, err := NewReader(r, limits).ReadFrame()
	if err != nil {
		return nil, err
	}
	return Decode(f)
}

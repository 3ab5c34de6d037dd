package protocol

// Frame header: [1B packet type][4B payload length little-endian]
const HeaderSize = 5

// PacketType identifies the payload carried by a frame.
type PacketType byte

const (
	// Viewer → host
	PacketMouse    PacketType = 0x01
	PacketKeyboard PacketType = 0x02
	PacketScroll   PacketType = 0x03

	// Both directions
	PacketClipboard PacketType = 0x04

	// Host → viewer
	PacketScreen PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PacketMouse:
		return "mouse"
	case PacketKeyboard:
		return "keyboard"
	case PacketScroll:
		return "scroll"
	case PacketClipboard:
		return "clipboard"
	case PacketScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// Known reports whether t is one of the defined packet types.
func (t PacketType) Known() bool {
	return t >= PacketMouse && t <= PacketScreen
}

// Fixed payload sizes (excluding header).
const (
	MouseEventSize    = 5 // u8 action + i16 x + i16 y
	KeyboardEventSize = 2 // u8 key code + u8 state
	ScrollEventSize   = 4 // i32 delta
)

// Default payload ceilings for the variable-size packets.
const (
	DefaultMaxScreenSize    = 16 * 1024 * 1024 // 16 MB
	DefaultMaxClipboardSize = 1 * 1024 * 1024  // 1 MB
	DefaultMaxUnknownSize   = 1 * 1024 * 1024  // skipped, never buffered
)

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMouseEventRoundTrip(t *testing.T) {
	for _, original := range []*MouseEvent{
		{Action: MouseMove, X: 0, Y: 0},
		{Action: MouseLeftClick, X: 1919, Y: 1079},
		{Action: MouseRightClick, X: -5, Y: 32767},
		{Action: MouseDoubleClick, X: -32768, Y: 12},
	} {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, original); err != nil {
			t.Fatal(err)
		}
		if buf.Len() != HeaderSize+MouseEventSize {
			t.Fatalf("encoded %d bytes", buf.Len())
		}
		msg, err := ReadMessage(&buf, Limits{})
		if err != nil {
			t.Fatal(err)
		}
		decoded := msg.(*MouseEvent)
		if *decoded != *original {
			t.Fatalf("mouse mismatch: got %+v, want %+v", decoded, original)
		}
	}
}

func TestMouseEventLayout(t *testing.T) {
	_, p, err := Encode(&MouseEvent{Action: MouseLeftClick, X: 0x0102, Y: -1})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x02, 0x01, 0xff, 0xff}
	if !bytes.Equal(p, want) {
		t.Fatalf("payload = % x, want % x", p, want)
	}
}

func TestEncodeValueAndPointerAgree(t *testing.T) {
	for _, pair := range [][2]any{
		{MouseEvent{Action: MouseMove, X: 7, Y: 8}, &MouseEvent{Action: MouseMove, X: 7, Y: 8}},
		{KeyboardEvent{KeyCode: 0x41, State: KeyUp}, &KeyboardEvent{KeyCode: 0x41, State: KeyUp}},
		{ScrollEvent{Delta: -120}, &ScrollEvent{Delta: -120}},
		{ClipboardText{Text: "x"}, &ClipboardText{Text: "x"}},
	} {
		tv, pv, err := Encode(pair[0])
		if err != nil {
			t.Fatal(err)
		}
		tp, pp, err := Encode(pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if tv != tp || !bytes.Equal(pv, pp) {
			t.Fatalf("%T encodes differently by value and by pointer", pair[0])
		}
	}
}

func TestKeyboardEventRoundTrip(t *testing.T) {
	for _, state := range []KeyState{KeyDown, KeyUp} {
		original := &KeyboardEvent{KeyCode: 0x41, State: state}
		var buf bytes.Buffer
		if err := WriteMessage(&buf, original); err != nil {
			t.Fatal(err)
		}
		msg, err := ReadMessage(&buf, Limits{})
		if err != nil {
			t.Fatal(err)
		}
		if decoded := msg.(*KeyboardEvent); *decoded != *original {
			t.Fatalf("keyboard mismatch: got %+v, want %+v", decoded, original)
		}
	}
}

func TestScrollEventRoundTrip(t *testing.T) {
	for _, delta := range []int32{0, 120, -120, 1<<31 - 1, -1 << 31} {
		original := &ScrollEvent{Delta: delta}
		var buf bytes.Buffer
		if err := WriteMessage(&buf, original); err != nil {
			t.Fatal(err)
		}
		msg, err := ReadMessage(&buf, Limits{})
		if err != nil {
			t.Fatal(err)
		}
		if decoded := msg.(*ScrollEvent); decoded.Delta != delta {
			t.Fatalf("scroll mismatch: got %d, want %d", decoded.Delta, delta)
		}
	}
}

func TestClipboardTextRoundTrip(t *testing.T) {
	for _, text := range []string{"", "hello", "日本語テキスト", "line1\nline2\r\n"} {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, &ClipboardText{Text: text}); err != nil {
			t.Fatal(err)
		}
		msg, err := ReadMessage(&buf, Limits{})
		if err != nil {
			t.Fatal(err)
		}
		if decoded := msg.(*ClipboardText); decoded.Text != text {
			t.Fatalf("clipboard mismatch: got %q, want %q", decoded.Text, text)
		}
	}
}

func TestScreenImageRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xff, 0xd8, 0x00}, 1000)
	var buf bytes.Buffer
	if err := WriteMessage(&buf, &ScreenImage{Data: data}); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf, Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if decoded := msg.(*ScreenImage); !bytes.Equal(decoded.Data, data) {
		t.Fatal("screen image mismatch")
	}
}

func TestMultipleMessagesInSequence(t *testing.T) {
	var buf bytes.Buffer

	msgs := []any{
		&MouseEvent{Action: MouseMove, X: 10, Y: 20},
		&KeyboardEvent{KeyCode: 0x41, State: KeyDown},
		&KeyboardEvent{KeyCode: 0x41, State: KeyUp},
		&ScrollEvent{Delta: -240},
		&ClipboardText{Text: "copied"},
		&ScreenImage{Data: []byte("not really a jpeg")},
	}

	for _, msg := range msgs {
		if err := WriteMessage(&buf, msg); err != nil {
			t.Fatal(err)
		}
	}

	fr := NewReader(&buf, Limits{})
	for i, expected := range msgs {
		f, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		msg, err := Decode(f)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		switch e := expected.(type) {
		case *MouseEvent:
			if d := msg.(*MouseEvent); *d != *e {
				t.Fatalf("message %d: mouse mismatch", i)
			}
		case *KeyboardEvent:
			if d := msg.(*KeyboardEvent); *d != *e {
				t.Fatalf("message %d: keyboard mismatch", i)
			}
		case *ScrollEvent:
			if d := msg.(*ScrollEvent); *d != *e {
				t.Fatalf("message %d: scroll mismatch", i)
			}
		case *ClipboardText:
			if d := msg.(*ClipboardText); d.Text != e.Text {
				t.Fatalf("message %d: clipboard mismatch", i)
			}
		case *ScreenImage:
			if d := msg.(*ScreenImage); !bytes.Equal(d.Data, e.Data) {
				t.Fatalf("message %d: screen mismatch", i)
			}
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		typ  PacketType
		size int
	}{
		{PacketMouse, 4},
		{PacketMouse, 6},
		{PacketKeyboard, 1},
		{PacketScroll, 3},
	}
	for _, c := range cases {
		_, err := Decode(Frame{Type: c.typ, Payload: make([]byte, c.size)})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%v/%d: expected ErrMalformedPayload, got %v", c.typ, c.size, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(Frame{Type: PacketType(0xFF)})
	if !errors.Is(err, ErrUnknownPacket) {
		t.Fatalf("expected ErrUnknownPacket, got %v", err)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, _, err := Encode("not a message"); err == nil {
		t.Fatal("expected error for unsupported message type")
	}
}

func TestValueRangeNotValidated(t *testing.T) {
	// Action and key state values outside the enum pass through; the input
	// sink decides what to do with them.
	msg, err := Decode(Frame{Type: PacketMouse, Payload: []byte{9, 0, 0, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.(*MouseEvent).Action != MouseAction(9) {
		t.Fatal("action value altered")
	}
}

// --- Fuzz tests ---

func FuzzDecodeMouseEvent(f *testing.F) {
	f.Add(make([]byte, MouseEventSize))
	f.Fuzz(func(t *testing.T, data []byte) {
		DecodeMouseEvent(data)
	})
}

func FuzzRoundTripMouseEvent(f *testing.F) {
	f.Add(byte(0), int16(0), int16(0))
	f.Add(byte(3), int16(-32768), int16(32767))
	f.Fuzz(func(t *testing.T, action byte, x, y int16) {
		original := &MouseEvent{Action: MouseAction(action), X: x, Y: y}
		_, p, err := Encode(original)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := DecodeMouseEvent(p)
		if err != nil {
			t.Fatal(err)
		}
		if *decoded != *original {
			t.Fatalf("mouse mismatch: got %+v, want %+v", decoded, original)
		}
	})
}

func FuzzRoundTripClipboardText(f *testing.F) {
	f.Add("")
	f.Add("hello")
	f.Fuzz(func(t *testing.T, text string) {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, &ClipboardText{Text: text}); err != nil {
			t.Fatal(err)
		}
		msg, err := ReadMessage(&buf, Limits{})
		if err != nil {
			t.Fatal(err)
		}
		if decoded := msg.(*ClipboardText); decoded.Text != text {
			t.Fatalf("clipboard mismatch: got %q, want %q", decoded.Text, text)
		}
	})
}

package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := [][]byte{[]byte("hello"), bytes.Repeat([]byte{0xAB}, 4096), []byte("x")}

	for _, m := range msgs {
		if err := WriteMessage(&buf, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for _, want := range msgs {
		got, err := ReadMessage(&buf, DefaultMaxFrameBytes)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestReadMessage_ZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	if _, err := ReadMessage(&buf, DefaultMaxFrameBytes); err != ErrZeroLength {
		t.Fatalf("expected ErrZeroLength, got %v", err)
	}
}

func TestReadMessage_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteMessage(&buf, bytes.Repeat([]byte{1}, 100))
	if _, err := ReadMessage(&buf, 10); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadMessage_CleanEOFAtBoundary(t *testing.T) {
	var buf bytes.Buffer
	if _, err := ReadMessage(&buf, DefaultMaxFrameBytes); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadMessage_PartialHeaderIsCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, 2}) // truncated length prefix
	if _, err := ReadMessage(&buf, DefaultMaxFrameBytes); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadMessage_PartialPayloadIsCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteMessage(&buf, []byte("hello world"))
	truncated := buf.Bytes()[:8]
	r := bytes.NewReader(truncated)
	if _, err := ReadMessage(r, DefaultMaxFrameBytes); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

package stream

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cuemby/crucible/pkg/types"
)

func frame(tag types.StreamTag, payload []byte) []byte {
	header := make([]byte, headerSize)
	header[0] = byte(tag)
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemultiplexerSplitsStreams(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(types.StreamStdout, []byte("out1")))
	buf.Write(frame(types.StreamStderr, []byte("err1")))
	buf.Write(frame(types.StreamStdout, []byte("out2")))

	d := New(DefaultCapBytes)
	if err := d.Consume(&buf); err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}

	if got := string(d.Stdout()); got != "out1out2" {
		t.Errorf("stdout = %q, want %q", got, "out1out2")
	}
	if got := string(d.Stderr()); got != "err1" {
		t.Errorf("stderr = %q, want %q", got, "err1")
	}
}

func TestDemultiplexerDiscardsUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(types.StreamTag(99), []byte("ignored")))
	buf.Write(frame(types.StreamStdout, []byte("kept")))

	d := New(DefaultCapBytes)
	if err := d.Consume(&buf); err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	if got := string(d.Stdout()); got != "kept" {
		t.Errorf("stdout = %q, want %q", got, "kept")
	}
}

func TestDemultiplexerDiscardsTruncatedTrailingFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(types.StreamStdout, []byte("complete")))
	full := frame(types.StreamStdout, []byte("will not arrive in full"))
	buf.Write(full[:headerSize+3]) // header promises more than we write

	d := New(DefaultCapBytes)
	if err := d.Consume(&buf); err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	if got := string(d.Stdout()); got != "complete" {
		t.Errorf("stdout = %q, want %q", got, "complete")
	}
}

func TestDemultiplexerTruncatesAtCap(t *testing.T) {
	tests := []struct {
		name     string
		cap      int
		payloads [][]byte
		want     string
	}{
		{
			name:     "exact fit",
			cap:      8,
			payloads: [][]byte{[]byte("aaaa"), []byte("bbbb")},
			want:     "aaaabbbb",
		},
		{
			name:     "split across frames",
			cap:      6,
			payloads: [][]byte{[]byte("aaaa"), []byte("bbbb")},
			want:     "aaaabb",
		},
		{
			name:     "already full",
			cap:      4,
			payloads: [][]byte{[]byte("aaaa"), []byte("bbbb")},
			want:     "aaaa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			for _, p := range tt.payloads {
				buf.Write(frame(types.StreamStdout, p))
			}

			d := New(tt.cap)
			if err := d.Consume(&buf); err != nil {
				t.Fatalf("Consume returned error: %v", err)
			}
			if got := string(d.Stdout()); got != tt.want {
				t.Errorf("stdout = %q, want %q", got, tt.want)
			}
			if len(d.Stdout()) > tt.cap {
				t.Errorf("stdout length %d exceeds cap %d", len(d.Stdout()), tt.cap)
			}
		})
	}
}

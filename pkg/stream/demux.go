// Package stream implements the Stream Demultiplexer: it splits the
// multiplexed stdout/stderr stream produced by pkg/runtime's Attach back
// into two bounded buffers.
package stream

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cuemby/crucible/pkg/types"
)

const headerSize = 8

// DefaultCapBytes is the per-stream output cap applied when a Demultiplexer
// is constructed with cap <= 0.
const DefaultCapBytes = 10000

// Demultiplexer reads frames off a multiplexed stream and accumulates
// stdout and stderr independently, each truncated at capBytes. Truncation
// happens as bytes arrive, not after the fact: once a stream hits its cap,
// further bytes for that stream are discarded but the frame stream keeps
// being drained so the other stream and later frames are unaffected.
type Demultiplexer struct {
	capBytes int
	stdout   []byte
	stderr   []byte
}

// New creates a Demultiplexer capping each stream at capBytes.
func New(capBytes int) *Demultiplexer {
	if capBytes <= 0 {
		capBytes = DefaultCapBytes
	}
	return &Demultiplexer{capBytes: capBytes}
}

// Consume reads r to EOF, splitting frames into the stdout/stderr buffers.
// A frame with an unrecognized tag is skipped. A truncated trailing frame
// (a short header or a payload cut off before its declared length) is
// discarded rather than erroring, since it only ever occurs when the
// producer side closed the pipe mid-write.
func (d *Demultiplexer) Consume(r io.Reader) error {
	br := bufio.NewReader(r)
	header := make([]byte, headerSize)

	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		tag := types.StreamTag(header[0])
		length := binary.BigEndian.Uint32(header[4:])

		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		d.append(tag, payload)
	}
}

func (d *Demultiplexer) append(tag types.StreamTag, payload []byte) {
	switch tag {
	case types.StreamStdout:
		d.stdout = appendCapped(d.stdout, payload, d.capBytes)
	case types.StreamStderr:
		d.stderr = appendCapped(d.stderr, payload, d.capBytes)
	default:
		// unknown tag: drop the payload, keep draining
	}
}

func appendCapped(buf, add []byte, cap int) []byte {
	if len(buf) >= cap {
		return buf
	}
	room := cap - len(buf)
	if room < len(add) {
		add = add[:room]
	}
	return append(buf, add...)
}

// Stdout returns the accumulated, possibly truncated stdout bytes.
func (d *Demultiplexer) Stdout() []byte { return d.stdout }

// Stderr returns the accumulated, possibly truncated stderr bytes.
func (d *Demultiplexer) Stderr() []byte { return d.stderr }

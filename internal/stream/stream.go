// Package stream wraps raw file descriptors in capability-tagged stream
// objects. The spawn engines only accept pipe-backed streams as stdio
// bindings; the kind tag lets them reject anything else before any OS
// resources are committed.
package stream

import (
	"errors"
	"fmt"
	"os"
)

// Kind identifies the capability of a stream object.
type Kind int

const (
	KindUnknown Kind = iota
	KindPipe
	KindTTY
	KindFile
)

// String renders the kind for error messages.
func (k Kind) String() string {
	switch k {
	case KindPipe:
		return "pipe"
	case KindTTY:
		return "tty"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Direction declares which way bytes flow through an open stream.
type Direction int

const (
	Readable Direction = iota + 1
	Writable
)

var (
	// ErrNotOpen is returned when I/O is attempted before a descriptor has
	// been bound to the stream.
	ErrNotOpen = errors.New("stream: not open")

	// ErrAlreadyOpen is returned when Open is called on a stream that
	// already owns a descriptor.
	ErrAlreadyOpen = errors.New("stream: already open")
)

// Stream is a higher-level handle over a single descriptor endpoint. A
// stream starts life unopened; a spawn engine (or any other owner of a raw
// descriptor) binds it with Open.
type Stream struct {
	kind Kind
	dir  Direction
	f    *os.File
}

// NewPipe constructs an unopened pipe-backed stream, the only kind accepted
// as a spawn stdio binding.
func NewPipe() *Stream {
	return &Stream{kind: KindPipe}
}

// New constructs an unopened stream of an arbitrary kind.
func New(kind Kind) *Stream {
	return &Stream{kind: kind}
}

// Kind reports the stream's capability tag.
func (s *Stream) Kind() Kind {
	return s.kind
}

// IsOpen reports whether a descriptor is bound to the stream.
func (s *Stream) IsOpen() bool {
	return s.f != nil
}

// Open adopts fd as the stream's descriptor with the given direction.
// Closing the stream closes the descriptor; the caller must not close fd
// itself afterwards.
func (s *Stream) Open(fd int, dir Direction) error {
	if s.f != nil {
		return ErrAlreadyOpen
	}
	if dir != Readable && dir != Writable {
		return fmt.Errorf("stream: invalid direction %d", dir)
	}
	s.f = os.NewFile(uintptr(fd), s.kind.String())
	s.dir = dir
	return nil
}

// Direction reports which way the stream moves bytes. Zero until opened.
func (s *Stream) Direction() Direction {
	return s.dir
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.f == nil {
		return 0, ErrNotOpen
	}
	if s.dir != Readable {
		return 0, fmt.Errorf("stream: not readable")
	}
	return s.f.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	if s.f == nil {
		return 0, ErrNotOpen
	}
	if s.dir != Writable {
		return 0, fmt.Errorf("stream: not writable")
	}
	return s.f.Write(p)
}

// Close releases the underlying descriptor. Closing an unopened stream is a
// no-op.
func (s *Stream) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// File exposes the underlying file for callers that need the raw handle.
func (s *Stream) File() *os.File {
	return s.f
}

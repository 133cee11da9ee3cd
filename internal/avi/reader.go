package avi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
)

// ErrNotAVI is returned when the file is not a RIFF/AVI container.
var ErrNotAVI = errors.New("not an avi file")

// Reader iterates the video frames of an MJPEG AVI file in stream order.
type Reader struct {
	f       *os.File
	width   int
	height  int
	fps     int
	frames  int
	moviPos int64
	moviEnd int64
}

// NewReader opens path and parses the container headers. Frame data is read
// lazily by Next.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open avi file: %w", err)
	}

	r := &Reader{f: f, fps: 25}
	if err := r.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseHeader() error {
	hdr := make([]byte, 12)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		return ErrNotAVI
	}
	if !bytes.Equal(hdr[0:4], []byte("RIFF")) || !bytes.Equal(hdr[8:12], []byte("AVI ")) {
		return ErrNotAVI
	}

	riffEnd := int64(12) + int64(binary.LittleEndian.Uint32(hdr[4:8])) - 4

	// Walk the top-level chunks looking for hdrl and movi.
	pos := int64(12)
	for pos+8 <= riffEnd {
		chdr := make([]byte, 8)
		if _, err := r.f.ReadAt(chdr, pos); err != nil {
			return fmt.Errorf("truncated avi chunk at %d: %w", pos, err)
		}
		fourcc := string(chdr[0:4])
		size := int64(binary.LittleEndian.Uint32(chdr[4:8]))

		if fourcc == "LIST" {
			ltype := make([]byte, 4)
			if _, err := r.f.ReadAt(ltype, pos+8); err != nil {
				return fmt.Errorf("truncated avi list at %d: %w", pos, err)
			}
			switch string(ltype) {
			case "hdrl":
				if err := r.parseHdrl(pos+12, size-4); err != nil {
					return err
				}
			case "movi":
				r.moviPos = pos + 12
				r.moviEnd = pos + 8 + size
			}
		}

		pos += 8 + size
		if size%2 == 1 {
			pos++
		}
	}

	if r.moviPos == 0 {
		return fmt.Errorf("%w: no movi list", ErrNotAVI)
	}
	if r.width == 0 || r.height == 0 {
		return fmt.Errorf("%w: missing stream header", ErrNotAVI)
	}
	return nil
}

// parseHdrl pulls dimensions from avih and the frame rate from the first
// video stream header.
func (r *Reader) parseHdrl(pos, size int64) error {
	end := pos + size
	for pos+8 <= end {
		chdr := make([]byte, 8)
		if _, err := r.f.ReadAt(chdr, pos); err != nil {
			return fmt.Errorf("truncated hdrl chunk: %w", err)
		}
		fourcc := string(chdr[0:4])
		csize := int64(binary.LittleEndian.Uint32(chdr[4:8]))

		switch fourcc {
		case "avih":
			body := make([]byte, 40)
			if _, err := r.f.ReadAt(body, pos+8); err != nil {
				return fmt.Errorf("truncated avih chunk: %w", err)
			}
			r.frames = int(binary.LittleEndian.Uint32(body[16:20]))
			r.width = int(binary.LittleEndian.Uint32(body[32:36]))
			r.height = int(binary.LittleEndian.Uint32(body[36:40]))
		case "LIST":
			// strl lists nest one level down.
			ltype := make([]byte, 4)
			if _, err := r.f.ReadAt(ltype, pos+8); err == nil && string(ltype) == "strl" {
				if err := r.parseHdrl(pos+12, csize-4); err != nil {
					return err
				}
			}
		case "strh":
			body := make([]byte, 32)
			if _, err := r.f.ReadAt(body, pos+8); err != nil {
				return fmt.Errorf("truncated strh chunk: %w", err)
			}
			if bytes.Equal(body[0:4], []byte("vids")) {
				scale := binary.LittleEndian.Uint32(body[20:24])
				rate := binary.LittleEndian.Uint32(body[24:28])
				if scale > 0 && rate > 0 {
					r.fps = int(rate / scale)
				}
			}
		}

		pos += 8 + csize
		if csize%2 == 1 {
			pos++
		}
	}
	return nil
}

// Next returns the next video frame, or io.EOF when the stream is exhausted.
// The sequence is finite and not restartable once consumed.
//
// io.EOF is reserved for genuine exhaustion at the end of the movi list; a
// file whose header promises more data than it holds fails with
// io.ErrUnexpectedEOF so truncation is never mistaken for a clean end.
func (r *Reader) Next() (image.Image, error) {
	for r.moviPos+8 <= r.moviEnd {
		chdr := make([]byte, 8)
		if _, err := r.f.ReadAt(chdr, r.moviPos); err != nil {
			return nil, fmt.Errorf("truncated frame chunk: %w", noEOF(err))
		}
		fourcc := string(chdr[0:4])
		size := int64(binary.LittleEndian.Uint32(chdr[4:8]))

		dataPos := r.moviPos + 8
		// The chunk size is untrusted input; a chunk that claims to extend
		// past the movi list is corruption, not something to allocate for.
		if size < 0 || dataPos+size > r.moviEnd {
			return nil, fmt.Errorf("frame chunk of %d bytes overruns movi list: %w",
				size, io.ErrUnexpectedEOF)
		}
		r.moviPos = dataPos + size
		if size%2 == 1 {
			r.moviPos++
		}

		// Video chunks end in "dc" (compressed) or "db" (uncompressed);
		// anything else (audio, rec lists, padding) is skipped.
		if len(fourcc) == 4 && (fourcc[2:] == "dc" || fourcc[2:] == "db") {
			data := make([]byte, size)
			if _, err := r.f.ReadAt(data, dataPos); err != nil {
				return nil, fmt.Errorf("truncated frame data: %w", noEOF(err))
			}
			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("failed to decode frame: %w", err)
			}
			return img, nil
		}
	}
	return nil, io.EOF
}

// noEOF converts a short-read io.EOF into io.ErrUnexpectedEOF. Mid-stream,
// running out of bytes is corruption.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Width reports the frame width from the container header.
func (r *Reader) Width() int { return r.width }

// Height reports the frame height from the container header.
func (r *Reader) Height() int { return r.height }

// FPS reports the nominal frame rate.
func (r *Reader) FPS() int { return r.fps }

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

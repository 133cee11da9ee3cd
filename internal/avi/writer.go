// Package avi reads and writes Motion-JPEG video inside the AVI (RIFF)
// container. It covers exactly what the inference pipeline needs: sequential
// frame access on the way in, annotated frame re-encoding on the way out.
package avi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
)

const (
	aviHeaderFlags = 0x00000010 // AVIF_HASINDEX
	jpegQuality    = 85
)

// Writer emits an MJPEG AVI file one frame at a time. Sizes and frame counts
// in the header are backpatched on Close.
type Writer struct {
	f      *os.File
	width  int
	height int
	fps    int
	frames int

	riffSizeOff    int64
	totalFramesOff int64
	streamLenOff   int64
	moviSizeOff    int64
	moviStart      int64

	index []indexEntry
	err   error
}

type indexEntry struct {
	offset uint32 // relative to the start of the movi list data
	size   uint32
}

// NewWriter creates the output file and lays down a provisional header.
func NewWriter(path string, width, height, fps int) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	if fps <= 0 {
		fps = 25
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create avi file: %w", err)
	}

	w := &Writer{f: f, width: width, height: height, fps: fps}
	if err := w.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	buf := &bytes.Buffer{}
	put32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }
	put16 := func(v uint16) { binary.Write(buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	w.riffSizeOff = 4
	put32(0) // riff size, patched on Close
	buf.WriteString("AVI ")

	// hdrl list: avih + one video stream (strh/strf).
	buf.WriteString("LIST")
	put32(4 + 8 + 56 + 8 + 4 + 8 + 56 + 8 + 40) // hdrl payload size
	buf.WriteString("hdrl")

	buf.WriteString("avih")
	put32(56)
	put32(uint32(1000000 / w.fps)) // dwMicroSecPerFrame
	put32(0)                       // dwMaxBytesPerSec
	put32(0)                       // dwPaddingGranularity
	put32(aviHeaderFlags)
	w.totalFramesOff = int64(buf.Len())
	put32(0) // dwTotalFrames, patched on Close
	put32(0) // dwInitialFrames
	put32(1) // dwStreams
	put32(uint32(w.width * w.height * 3))
	put32(uint32(w.width))
	put32(uint32(w.height))
	put32(0)
	put32(0)
	put32(0)
	put32(0)

	buf.WriteString("LIST")
	put32(4 + 8 + 56 + 8 + 40)
	buf.WriteString("strl")

	buf.WriteString("strh")
	put32(56)
	buf.WriteString("vids")
	buf.WriteString("MJPG")
	put32(0)             // dwFlags
	put16(0)             // wPriority
	put16(0)             // wLanguage
	put32(0)             // dwInitialFrames
	put32(1)             // dwScale
	put32(uint32(w.fps)) // dwRate
	put32(0)             // dwStart
	w.streamLenOff = int64(buf.Len())
	put32(0)          // dwLength, patched on Close
	put32(0)          // dwSuggestedBufferSize
	put32(0xFFFFFFFF) // dwQuality
	put32(0)          // dwSampleSize
	put16(0)
	put16(0)
	put16(uint16(w.width))
	put16(uint16(w.height))

	buf.WriteString("strf")
	put32(40)
	put32(40) // biSize
	put32(uint32(w.width))
	put32(uint32(w.height))
	put16(1)  // biPlanes
	put16(24) // biBitCount
	buf.WriteString("MJPG")
	put32(uint32(w.width * w.height * 3))
	put32(0)
	put32(0)
	put32(0)
	put32(0)

	buf.WriteString("LIST")
	w.moviSizeOff = int64(buf.Len())
	put32(0) // movi size, patched on Close
	buf.WriteString("movi")

	n, err := w.f.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to write avi header: %w", err)
	}
	w.moviStart = int64(n) - 4 // offset of the "movi" fourcc
	return nil
}

// WriteFrame JPEG-encodes img and appends it as a video chunk.
func (w *Writer) WriteFrame(img image.Image) error {
	if w.err != nil {
		return w.err
	}

	jbuf := &bytes.Buffer{}
	if err := jpeg.Encode(jbuf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		w.err = fmt.Errorf("failed to encode frame: %w", err)
		return w.err
	}

	pos, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		w.err = err
		return w.err
	}

	hdr := make([]byte, 8)
	copy(hdr, "00dc")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(jbuf.Len()))
	if _, err := w.f.Write(hdr); err != nil {
		w.err = fmt.Errorf("failed to write frame chunk: %w", err)
		return w.err
	}
	if _, err := w.f.Write(jbuf.Bytes()); err != nil {
		w.err = fmt.Errorf("failed to write frame chunk: %w", err)
		return w.err
	}
	if jbuf.Len()%2 == 1 {
		if _, err := w.f.Write([]byte{0}); err != nil {
			w.err = fmt.Errorf("failed to pad frame chunk: %w", err)
			return w.err
		}
	}

	w.index = append(w.index, indexEntry{
		offset: uint32(pos - w.moviStart),
		size:   uint32(jbuf.Len()),
	})
	w.frames++
	return nil
}

// Frames reports how many frames have been written so far.
func (w *Writer) Frames() int { return w.frames }

// Close writes the idx1 index, backpatches the provisional header fields and
// flushes the file to disk.
func (w *Writer) Close() error {
	if w.err != nil {
		w.f.Close()
		return w.err
	}

	moviEnd, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		w.f.Close()
		return err
	}

	// idx1 index: one entry per frame chunk.
	ibuf := &bytes.Buffer{}
	ibuf.WriteString("idx1")
	binary.Write(ibuf, binary.LittleEndian, uint32(16*len(w.index)))
	for _, e := range w.index {
		ibuf.WriteString("00dc")
		binary.Write(ibuf, binary.LittleEndian, uint32(0x10)) // AVIIF_KEYFRAME
		binary.Write(ibuf, binary.LittleEndian, e.offset)
		binary.Write(ibuf, binary.LittleEndian, e.size)
	}
	if _, err := w.f.Write(ibuf.Bytes()); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to write avi index: %w", err)
	}

	fileEnd := moviEnd + int64(ibuf.Len())

	patch := func(off int64, v uint32) error {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		_, err := w.f.WriteAt(b, off)
		return err
	}

	if err := patch(w.riffSizeOff, uint32(fileEnd-8)); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch avi header: %w", err)
	}
	if err := patch(w.totalFramesOff, uint32(w.frames)); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch avi header: %w", err)
	}
	if err := patch(w.streamLenOff, uint32(w.frames)); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch avi header: %w", err)
	}
	if err := patch(w.moviSizeOff, uint32(moviEnd-w.moviStart)); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch avi header: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to flush avi file: %w", err)
	}
	return w.f.Close()
}

package jobmanager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tailChunk = 64 * 1024

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Log returns the captured output of a job. With tail > 0 only the last tail
// lines are returned. A job whose runner never wrote anything has an empty log.
func (m *Manager) Log(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(job.LogPath)
	if errors.Is(err, fs.ErrNotExist) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if err != nil {
		return nil, err
	}
	if tail <= 0 {
		return f, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	// The runner may still be appending; only the bytes present now are served.
	size := info.Size()
	offset, err := tailOffset(f, size, tail)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sectionFile{SectionReader: io.NewSectionReader(f, offset, size-offset), file: f}, nil
}

type sectionFile struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionFile) Close() error {
	return s.file.Close()
}

// tailOffset returns the offset where the last n lines of the first size bytes
// of r begin. It reads backwards in fixed chunks, so line length is unbounded.
func tailOffset(r io.ReaderAt, size int64, n int) (int64, error) {
	end := size
	if end > 0 {
		last := make([]byte, 1)
		if _, err := r.ReadAt(last, end-1); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		// A trailing newline ends the last line, it does not start a new one.
		if last[0] == '\n' {
			end--
		}
	}

	buf := make([]byte, tailChunk)
	found := 0
	for end > 0 {
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		chunk := buf[:end-start]
		if _, err := r.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		for i := len(chunk) - 1; i >= 0; i-- {
			if chunk[i] != '\n' {
				continue
			}
			found++
			if found == n {
				return start + int64(i) + 1, nil
			}
		}
		end = start
	}
	return 0, nil
}

// tailBytes returns roughly the last max bytes of the file at path, starting
// at a line boundary.
func tailBytes(path string, max int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - max
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	if offset > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}
	return strings.TrimSpace(string(buf))
}

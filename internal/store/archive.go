package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArchiveWriter appends JSONL records to zstd-compressed segment files,
// one per UTC hour: <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst.
type ArchiveWriter struct {
	dir    string
	prefix string

	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewArchiveWriter(dir, prefix string) *ArchiveWriter {
	return &ArchiveWriter{dir: dir, prefix: prefix}
}

// WriteLine appends one pre-encoded JSON record to the current segment,
// rotating when the hour rolls over.
func (a *ArchiveWriter) WriteLine(payload []byte) error {
	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != a.curHour {
		if err := a.rotate(hour); err != nil {
			return err
		}
	}
	if _, err := a.w.Write(payload); err != nil {
		return err
	}
	return a.w.WriteByte('\n')
}

func (a *ArchiveWriter) rotate(hour string) error {
	if err := a.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(a.dir, fmt.Sprintf("%s-%s.jsonl.zst", a.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive segment: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("zstd writer: %w", err)
	}
	a.curHour = hour
	a.f = f
	a.enc = enc
	a.w = bufio.NewWriter(enc)
	return nil
}

func (a *ArchiveWriter) Close() error {
	if a.f == nil {
		return nil
	}
	var firstErr error
	if err := a.w.Flush(); err != nil {
		firstErr = err
	}
	if err := a.enc.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.curHour = ""
	a.f = nil
	a.enc = nil
	a.w = nil
	return firstErr
}

// Package recordinglog is a durable, directory-based election.RecordingLog:
// a CRC32-framed record format over a true append-only file, since a
// RecordingLog only ever grows (one record per leadership term change)
// and is never truncated or snapshotted.
package recordinglog

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	fileName         = "recording.log"
	recordHeaderSize = 8 // 4 bytes CRC + 4 bytes length
)

// TermRecord is one durable entry: the term that began, the log position it
// began at, and when this member observed it.
type TermRecord struct {
	Term        int64
	LogPosition int64
	Timestamp   time.Time
}

// Log is a RecordingLog backed by a single append-only file per directory.
// It is safe for concurrent use; a host agent may read Records() from a
// monitoring goroutine while the owning FSM thread appends.
type Log struct {
	mu      sync.RWMutex
	dir     string
	file    *os.File
	records []TermRecord
}

// Open creates dir if needed and recovers any existing records from it.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("recordinglog: create directory: %w", err)
	}
	l := &Log{dir: dir}
	if err := l.recover(); err != nil {
		return nil, fmt.Errorf("recordinglog: recover: %w", err)
	}
	return l, nil
}

func (l *Log) recover() error {
	path := filepath.Join(l.dir, fileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open recording log file: %w", err)
	}
	l.file = file

	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopen recording log for read: %w", err)
	}
	defer r.Close()

	for {
		header := make([]byte, recordHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		crc := binary.LittleEndian.Uint32(header[:4])
		length := binary.LittleEndian.Uint32(header[4:8])

		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("truncated record: %w", err)
		}
		if crc32.ChecksumIEEE(data) != crc {
			return fmt.Errorf("CRC mismatch in recording log entry")
		}

		var rec TermRecord
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		l.records = append(l.records, rec)
	}
}

// AppendTerm implements election.RecordingLog: it durably records that
// term began at logPosition at the given timestamp, even for a term this
// member never actually led or followed under — a deferred vote or a
// term adoption appends a record before changing state. Appending a
// (term, logPosition) pair that is already recorded is a no-op.
func (l *Log) AppendTerm(term int64, logPosition int64, timestamp time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.records {
		if r.Term == term && r.LogPosition == logPosition {
			return nil
		}
	}

	rec := TermRecord{Term: term, LogPosition: logPosition, Timestamp: timestamp}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("recordinglog: encode term record: %w", err)
	}
	data := buf.Bytes()
	crc := crc32.ChecksumIEEE(data)

	header := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(header[:4], crc)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	if _, err := l.file.Write(header); err != nil {
		return fmt.Errorf("recordinglog: write header: %w", err)
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("recordinglog: write record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("recordinglog: sync: %w", err)
	}

	l.records = append(l.records, rec)
	return nil
}

// Records returns every term record appended so far, in append order.
func (l *Log) Records() []TermRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TermRecord, len(l.records))
	copy(out, l.records)
	return out
}

// LastTerm returns the most recently appended term, or 0 if the log is
// empty.
func (l *Log) LastTerm() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return 0
	}
	return l.records[len(l.records)-1].Term
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

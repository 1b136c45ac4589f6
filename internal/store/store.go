// Package store persists the focus stage state that must survive power
// cycles: the last written position and the selected objective/limit. The
// layout mimics the EEPROM of the original controller board: one fixed-size
// record per value, rewritten in place.
//
// Only the objective record is ever read back at boot. The position record is
// write-only from the controller's point of view: the stage may have been
// moved while unpowered, so a stale persisted position must never be trusted
// and every boot forces re-homing. ReadPosition exists for diagnostics only.
package store

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
)

// Store is the durable storage used by the controller.
type Store interface {
	// WritePosition durably records the current step position.
	WritePosition(pos int64) error
	// WriteObjective durably records the objective selection. id is the
	// objective identifier (4, 10, 40) or 0 for a custom limit.
	WriteObjective(id, limit int64) error
	// ReadObjective returns the persisted objective selection.
	// ok is false when no selection has ever been written.
	ReadObjective() (id, limit int64, ok bool, err error)
	Close() error
}

// File layout. Each record is 16 bytes: a validity byte, padding, then the
// little-endian payload. Records are rewritten in place so the file never
// grows and a torn write can clobber at most one record.
const (
	fileSize = headerSize + 2*recordSize

	headerSize = 8
	recordSize = 16

	posRecordOff = headerSize
	objRecordOff = headerSize + recordSize

	recordValid = 0x01
)

var magic = [8]byte{'F', 'S', 'T', 'G', 1, 0, 0, 0}

// FileStore is the file-backed Store implementation.
type FileStore struct {
	f *os.File
}

// OpenFile opens (or creates) the state file at path.
func OpenFile(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat state file: %w", err)
	}

	if info.Size() < fileSize {
		// Fresh or truncated file: lay out empty records.
		buf := make([]byte, fileSize)
		copy(buf, magic[:])
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("initialize state file: %w", err)
		}
		debug.Verbose("store: initialized state file %s", path)
	} else {
		var got [8]byte
		if _, err := f.ReadAt(got[:], 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("read state file header: %w", err)
		}
		if got != magic {
			f.Close()
			return nil, fmt.Errorf("state file %s: bad magic %v", path, got[:4])
		}
	}

	return &FileStore{f: f}, nil
}

func (s *FileStore) writeRecord(off int64, payload []byte) error {
	rec := make([]byte, recordSize)
	rec[0] = recordValid
	copy(rec[8:], payload)
	if _, err := s.f.WriteAt(rec, off); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *FileStore) readRecord(off int64) (payload []byte, ok bool, err error) {
	rec := make([]byte, recordSize)
	if _, err := s.f.ReadAt(rec, off); err != nil {
		return nil, false, err
	}
	if rec[0] != recordValid {
		return nil, false, nil
	}
	return rec[8:], true, nil
}

func (s *FileStore) WritePosition(pos int64) error {
	debug.Verbose("store: persisting position %d", pos)
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(pos))
	if err := s.writeRecord(posRecordOff, payload); err != nil {
		return fmt.Errorf("write position record: %w", err)
	}
	return nil
}

// ReadPosition returns the persisted position record. Diagnostic use only:
// focusd never reads this at boot, by design.
func (s *FileStore) ReadPosition() (pos int64, ok bool, err error) {
	payload, ok, err := s.readRecord(posRecordOff)
	if err != nil {
		return 0, false, fmt.Errorf("read position record: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	return int64(binary.LittleEndian.Uint64(payload)), true, nil
}

func (s *FileStore) WriteObjective(id, limit int64) error {
	debug.Verbose("store: persisting objective id=%d limit=%d", id, limit)
	// id fits in one byte (0 for custom, else 4/10/40); the limit takes the
	// full 8-byte payload.
	rec := make([]byte, recordSize)
	rec[0] = recordValid
	rec[1] = byte(id)
	binary.LittleEndian.PutUint64(rec[8:], uint64(limit))
	if _, err := s.f.WriteAt(rec, objRecordOff); err != nil {
		return fmt.Errorf("write objective record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync objective record: %w", err)
	}
	return nil
}

func (s *FileStore) ReadObjective() (id, limit int64, ok bool, err error) {
	rec := make([]byte, recordSize)
	if _, err := s.f.ReadAt(rec, objRecordOff); err != nil {
		return 0, 0, false, fmt.Errorf("read objective record: %w", err)
	}
	if rec[0] != recordValid {
		return 0, 0, false, nil
	}
	return int64(rec[1]), int64(binary.LittleEndian.Uint64(rec[8:])), true, nil
}

func (s *FileStore) Close() error {
	return s.f.Close()
}

// MemStore is an in-memory Store for tests. It counts writes so the
// controller's write-throttling policy can be asserted.
type MemStore struct {
	Position       int64
	PositionWrites int
	HasPosition    bool

	ObjectiveID    int64
	Limit          int64
	ObjectiveSaves int
	HasObjective   bool
}

func (m *MemStore) WritePosition(pos int64) error {
	m.Position = pos
	m.HasPosition = true
	m.PositionWrites++
	return nil
}

func (m *MemStore) WriteObjective(id, limit int64) error {
	m.ObjectiveID = id
	m.Limit = limit
	m.HasObjective = true
	m.ObjectiveSaves++
	return nil
}

func (m *MemStore) ReadObjective() (int64, int64, bool, error) {
	return m.ObjectiveID, m.Limit, m.HasObjective, nil
}

func (m *MemStore) Close() error { return nil }

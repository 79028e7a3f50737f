package persist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// Journal file header: [4-byte magic "CJNL"][uint16 version]
const (
	journalMagic          = "CJNL"
	journalHeaderSize     = 6
	journalCurrentVersion = 1
)

// Entry framing: [uint32 totalLen][byte kind][cbor body][uint64 xxhash]
// The checksum covers the kind byte and the body.
const (
	entryLenSize      = 4
	entryChecksumSize = 8
	entryMinSize      = entryLenSize + 1 + entryChecksumSize
)

// maxEntrySize bounds a single entry. Request lines are capped at 1 MiB,
// so no record can come close. A length field above it is corruption,
// never the start of a torn append.
const maxEntrySize = 4 << 20

// encMode produces Core Deterministic CBOR: the same record always
// encodes to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("persist: CBOR encoder initialization failed: " + err.Error())
	}
}

// JournalCorruptError is returned by LoadAll when an entry before the
// end of the file fails its checksum or cannot be decoded.
type JournalCorruptError struct {
	Offset int64
	Reason string
}

func (e *JournalCorruptError) Error() string {
	return fmt.Sprintf("journal corrupt at offset %d: %s", e.Offset, e.Reason)
}

// Journal is a Gateway backed by a single append-only file. Each
// mutation becomes one checksummed entry; LoadAll replays them in order.
type Journal struct {
	mu     sync.Mutex
	file   journalFile
	fsync  bool
	logger *slog.Logger
	// failed is set when a failed append could not be rolled back. The
	// file tail is then unknown and every later append is refused.
	failed error
}

// journalFile is the part of *os.File the journal uses.
type journalFile interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

// OpenJournal opens (or creates) the journal file at path. When fsync is
// true every appended entry is synced before OnMutation returns.
func OpenJournal(path string, fsync bool, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := writeJournalHeader(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("write journal header: %w", err)
		}
	} else if err := checkJournalHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return &Journal{file: f, fsync: fsync, logger: logger}, nil
}

func writeJournalHeader(f *os.File) error {
	var hdr [journalHeaderSize]byte
	copy(hdr[:4], journalMagic)
	binary.BigEndian.PutUint16(hdr[4:], journalCurrentVersion)
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	return f.Sync()
}

func checkJournalHeader(f *os.File) error {
	var hdr [journalHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("read journal header: %w", err)
	}
	if string(hdr[:4]) != journalMagic {
		return fmt.Errorf("%s is not a journal file", f.Name())
	}
	if v := binary.BigEndian.Uint16(hdr[4:]); v != journalCurrentVersion {
		return fmt.Errorf("journal version %d is not supported (want %d)", v, journalCurrentVersion)
	}
	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// OnMutation appends m as a single entry.
func (j *Journal) OnMutation(_ context.Context, m Mutation) error {
	if err := m.validate(); err != nil {
		return err
	}
	body, err := encodeMutation(m)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeEntry(byte(m.Kind), body)
}

func encodeMutation(m Mutation) ([]byte, error) {
	var rec any
	switch m.Kind {
	case KindUser:
		rec = m.User
	case KindAppointment:
		rec = m.Appointment
	case KindHistory:
		rec = m.History
	}
	body, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	return body, nil
}

// writeEntry appends one entry. If the write or the sync fails, the file
// is truncated back to where the entry began, so a rejected mutation
// never reaches the next replay.
func (j *Journal) writeEntry(kind byte, body []byte) error {
	if j.failed != nil {
		return fmt.Errorf("journal unusable: %w", j.failed)
	}
	totalLen := entryLenSize + 1 + len(body) + entryChecksumSize
	if totalLen > maxEntrySize {
		return fmt.Errorf("journal entry of %d bytes exceeds %d", totalLen, maxEntrySize)
	}

	entry := make([]byte, 0, totalLen)
	entry = binary.BigEndian.AppendUint32(entry, uint32(totalLen))
	entry = append(entry, kind)
	entry = append(entry, body...)
	entry = binary.BigEndian.AppendUint64(entry, xxhash.Sum64(entry[entryLenSize:]))

	off, err := j.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("journal offset: %w", err)
	}
	if _, err := j.file.Write(entry); err != nil {
		return j.rollback(off, fmt.Errorf("journal append: %w", err))
	}
	if j.fsync {
		if err := j.file.Sync(); err != nil {
			return j.rollback(off, fmt.Errorf("journal sync: %w", err))
		}
	}
	return nil
}

// rollback drops everything after off and returns cause, joined with
// the rollback failure if there was one.
func (j *Journal) rollback(off int64, cause error) error {
	err := j.file.Truncate(off)
	if err == nil {
		_, err = j.file.Seek(off, io.SeekStart)
	}
	if err != nil {
		j.failed = errors.Join(cause, fmt.Errorf("journal rollback: %w", err))
		j.logger.Error("journal rollback failed", "path", j.file.Name(), "offset", off, "error", err)
		return j.failed
	}
	j.logger.Warn("journal append rolled back", "path", j.file.Name(), "offset", off, "error", cause)
	return cause
}

// LoadAll replays every entry after the header. A torn entry at the very
// end of the file, left by a crash mid-append, is truncated away; any
// other damage is reported as a JournalCorruptError.
func (j *Journal) LoadAll(context.Context) (*Snapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	info, err := j.file.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	snap := &Snapshot{}
	off := int64(journalHeaderSize)
	for off < size {
		m, n, err := j.readEntry(off, size)
		if err != nil {
			var torn *tornEntryError
			if errors.As(err, &torn) {
				j.logger.Warn("truncating torn journal tail",
					"path", j.file.Name(),
					"offset", off,
					"reason", torn.reason,
				)
				if err := j.file.Truncate(off); err != nil {
					return nil, fmt.Errorf("truncate journal: %w", err)
				}
				break
			}
			return nil, err
		}
		snap.apply(m)
		off += n
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	j.logger.Info("journal replayed",
		"path", j.file.Name(),
		"users", len(snap.Users),
		"appointments", len(snap.Appointments),
		"history", len(snap.History),
	)
	return snap, nil
}

// tornEntryError marks damage confined to the final entry.
type tornEntryError struct{ reason string }

func (e *tornEntryError) Error() string { return "torn journal entry: " + e.reason }

// readEntry decodes the entry at off and returns it with its length.
func (j *Journal) readEntry(off, size int64) (Mutation, int64, error) {
	if size-off < entryLenSize {
		return Mutation{}, 0, &tornEntryError{"truncated length"}
	}
	var lenBuf [entryLenSize]byte
	if _, err := j.file.ReadAt(lenBuf[:], off); err != nil {
		return Mutation{}, 0, fmt.Errorf("read entry length: %w", err)
	}
	totalLen := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if totalLen > maxEntrySize {
		return Mutation{}, 0, &JournalCorruptError{Offset: off, Reason: fmt.Sprintf("entry length %d out of range", totalLen)}
	}
	if totalLen < entryMinSize {
		if size-off < entryMinSize {
			return Mutation{}, 0, &tornEntryError{"entry too short"}
		}
		return Mutation{}, 0, &JournalCorruptError{Offset: off, Reason: "entry too short"}
	}
	if off+totalLen > size {
		return Mutation{}, 0, &tornEntryError{"truncated body"}
	}

	rest := make([]byte, totalLen-entryLenSize)
	if _, err := j.file.ReadAt(rest, off+entryLenSize); err != nil {
		return Mutation{}, 0, fmt.Errorf("read entry body: %w", err)
	}
	data := rest[:len(rest)-entryChecksumSize]
	stored := binary.BigEndian.Uint64(rest[len(rest)-entryChecksumSize:])
	if xxhash.Sum64(data) != stored {
		if off+totalLen == size {
			return Mutation{}, 0, &tornEntryError{"checksum mismatch"}
		}
		return Mutation{}, 0, &JournalCorruptError{Offset: off, Reason: "checksum mismatch"}
	}

	m, err := decodeMutation(Kind(data[0]), data[1:])
	if err != nil {
		return Mutation{}, 0, &JournalCorruptError{Offset: off, Reason: err.Error()}
	}
	return m, totalLen, nil
}

func decodeMutation(kind Kind, body []byte) (Mutation, error) {
	switch kind {
	case KindUser:
		var u User
		if err := cbor.Unmarshal(body, &u); err != nil {
			return Mutation{}, err
		}
		return UserMutation(u), nil
	case KindAppointment:
		var a Appointment
		if err := cbor.Unmarshal(body, &a); err != nil {
			return Mutation{}, err
		}
		return AppointmentMutation(a), nil
	case KindHistory:
		var h History
		if err := cbor.Unmarshal(body, &h); err != nil {
			return Mutation{}, err
		}
		return HistoryMutation(h), nil
	default:
		return Mutation{}, fmt.Errorf("unknown entry kind %d", kind)
	}
}

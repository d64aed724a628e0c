// ════════════════════════════════════════════════════════════════════════════════════════════════
// Save-State Slot Store
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: SQLite-Backed Numbered Save Slots
//
// Description:
//   Persists encoded pipeline state into numbered slots. Each blob is zstd-compressed and
//   carries a SHA3-256 digest of the uncompressed bytes; Load refuses any blob whose digest
//   does not match. Slot metadata is stored as JSON next to the blob.
//
// Schema:
//   slots(slot INTEGER PRIMARY KEY, saved_at INTEGER, meta TEXT, digest BLOB, data BLOB)
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package savestate

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/natefinch/atomic"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/sha3"

	"gpufifo/debug"
)

const schema = `
CREATE TABLE IF NOT EXISTS slots (
	slot     INTEGER PRIMARY KEY,
	saved_at INTEGER NOT NULL,
	meta     TEXT    NOT NULL,
	digest   BLOB    NOT NULL,
	data     BLOB    NOT NULL
);`

// Meta describes one saved slot.
type Meta struct {
	Slot     int    `json:"slot"`
	Frame    uint64 `json:"frame"`
	Size     int    `json:"size"`
	Stored   int    `json:"stored"`
	SavedAt  int64  `json:"saved_at"`
	Producer string `json:"producer,omitempty"`
}

// Store is a slot database.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the slot database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open slot db: %w", err)
	}
	// a single connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		debug.DropError("SAVESTATE journal", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create slot schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the database and codecs.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		debug.DropError("SAVESTATE encoder close", err)
	}
	return s.db.Close()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SLOT OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Save writes state into slot, replacing any previous content.
func (s *Store) Save(ctx context.Context, slot int, meta Meta, state []byte) error {
	digest := sha3.Sum256(state)
	blob := s.enc.EncodeAll(state, nil)

	meta.Slot = slot
	meta.Size = len(state)
	meta.Stored = len(blob)
	if meta.SavedAt == 0 {
		meta.SavedAt = time.Now().Unix()
	}
	metaJSON, err := sonnet.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode slot meta: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO slots (slot, saved_at, meta, digest, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
		   saved_at = excluded.saved_at, meta = excluded.meta,
		   digest = excluded.digest, data = excluded.data`,
		slot, meta.SavedAt, string(metaJSON), digest[:], blob)
	if err != nil {
		return fmt.Errorf("save slot %d: %w", slot, err)
	}
	debug.DropMessage("SAVESTATE", "slot saved")
	return nil
}

// Load returns the verified state and metadata stored in slot.
func (s *Store) Load(ctx context.Context, slot int) ([]byte, Meta, error) {
	var (
		metaJSON string
		digest   []byte
		blob     []byte
		meta     Meta
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT meta, digest, data FROM slots WHERE slot = ?`, slot).
		Scan(&metaJSON, &digest, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meta, fmt.Errorf("slot %d: %w", slot, ErrNoSlot)
	}
	if err != nil {
		return nil, meta, fmt.Errorf("load slot %d: %w", slot, err)
	}
	if err := sonnet.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, meta, fmt.Errorf("slot %d meta: %w: %v", slot, ErrCorrupt, err)
	}

	state, err := s.dec.DecodeAll(blob, make([]byte, 0, meta.Size))
	if err != nil {
		return nil, meta, fmt.Errorf("slot %d: %w: %v", slot, ErrCorrupt, err)
	}
	sum := sha3.Sum256(state)
	if !bytes.Equal(sum[:], digest) {
		return nil, meta, fmt.Errorf("slot %d: %w: digest mismatch", slot, ErrCorrupt)
	}
	return state, meta, nil
}

// List returns the metadata of every occupied slot in slot order.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT meta FROM slots ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		var m Meta
		if err := sonnet.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("list slots: %w: %v", ErrCorrupt, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete empties slot. Deleting an empty slot is not an error.
func (s *Store) Delete(ctx context.Context, slot int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("delete slot %d: %w", slot, err)
	}
	return nil
}

// Export writes the verified state of slot to path. The file is replaced
// atomically, so readers never observe a partial state.
func (s *Store) Export(ctx context.Context, slot int, path string) error {
	state, _, err := s.Load(ctx, slot)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(state)); err != nil {
		return fmt.Errorf("export slot %d: %w", slot, err)
	}
	return nil
}

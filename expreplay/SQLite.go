package expreplay

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE meta (
	obs_dim  INTEGER NOT NULL,
	act_dim  INTEGER NOT NULL,
	min_size INTEGER NOT NULL
);
CREATE TABLE buffers (
	buffer   INTEGER PRIMARY KEY,
	max_size INTEGER NOT NULL,
	next     INTEGER NOT NULL,
	size     INTEGER NOT NULL,
	count    INTEGER NOT NULL
);
CREATE TABLE transitions (
	buffer     INTEGER NOT NULL,
	slot       INTEGER NOT NULL,
	id         INTEGER NOT NULL,
	obs        BLOB NOT NULL,
	act        BLOB NOT NULL,
	rew        REAL NOT NULL,
	terminated INTEGER NOT NULL,
	truncated  INTEGER NOT NULL,
	obs_next   BLOB NOT NULL,
	PRIMARY KEY (buffer, slot)
);`

// saveSQLite writes the buffer to a new SQLite database at path,
// replacing any existing file. Only occupied slots are written.
func saveSQLite(v *VectorReplayBuffer, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not replace %v: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s := v.state()
	if _, err := tx.Exec(`INSERT INTO meta VALUES (?, ?, ?)`, s.ObsDim,
		s.ActDim, s.MinSize); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO transitions VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, b := range s.Buffers {
		if _, err := tx.Exec(`INSERT INTO buffers VALUES (?, ?, ?, ?, ?)`,
			i, b.MaxSize, b.Next, b.Size, int64(b.Count)); err != nil {
			return fmt.Errorf("failed to write buffer %v: %w", i, err)
		}

		for slot := 0; slot < b.Size; slot++ {
			obs := b.Obs[slot*s.ObsDim : (slot+1)*s.ObsDim]
			act := b.Act[slot*s.ActDim : (slot+1)*s.ActDim]
			obsNext := b.ObsNext[slot*s.ObsDim : (slot+1)*s.ObsDim]

			_, err := stmt.Exec(i, slot, int64(b.IDs[slot]), encodeFloats(obs),
				encodeFloats(act), b.Rew[slot], b.Terminated[slot],
				b.Truncated[slot], encodeFloats(obsNext))
			if err != nil {
				return fmt.Errorf("failed to write transition %v of "+
					"buffer %v: %w", slot, i, err)
			}
		}
	}

	return tx.Commit()
}

// loadSQLite reads a buffer written by saveSQLite
func loadSQLite(path string) (vectorState, error) {
	if _, err := os.Stat(path); err != nil {
		return vectorState{}, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return vectorState{}, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var s vectorState
	err = db.QueryRow(`SELECT obs_dim, act_dim, min_size FROM meta`).Scan(
		&s.ObsDim, &s.ActDim, &s.MinSize)
	if err != nil {
		return vectorState{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	rows, err := db.Query(`SELECT max_size, next, size, count FROM buffers
		ORDER BY buffer`)
	if err != nil {
		return vectorState{}, fmt.Errorf("failed to read buffers: %w", err)
	}
	for rows.Next() {
		var b bufferState
		var count int64
		if err := rows.Scan(&b.MaxSize, &b.Next, &b.Size, &count); err != nil {
			rows.Close()
			return vectorState{}, err
		}
		if b.MaxSize < 1 {
			rows.Close()
			return vectorState{}, fmt.Errorf("invalid buffer size %v",
				b.MaxSize)
		}
		b.Count = uint64(count)
		b.Obs = make([]float64, b.MaxSize*s.ObsDim)
		b.Act = make([]float64, b.MaxSize*s.ActDim)
		b.Rew = make([]float64, b.MaxSize)
		b.Terminated = make([]bool, b.MaxSize)
		b.Truncated = make([]bool, b.MaxSize)
		b.ObsNext = make([]float64, b.MaxSize*s.ObsDim)
		b.IDs = make([]uint64, b.MaxSize)
		s.Buffers = append(s.Buffers, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return vectorState{}, err
	}

	rows, err = db.Query(`SELECT buffer, slot, id, obs, act, rew,
		terminated, truncated, obs_next FROM transitions`)
	if err != nil {
		return vectorState{}, fmt.Errorf("failed to read transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var buf, slot int
		var id int64
		var obs, act, obsNext []byte
		var rew float64
		var terminated, truncated bool
		if err := rows.Scan(&buf, &slot, &id, &obs, &act, &rew, &terminated,
			&truncated, &obsNext); err != nil {
			return vectorState{}, err
		}
		if buf < 0 || buf >= len(s.Buffers) || slot < 0 ||
			slot >= s.Buffers[buf].MaxSize {
			return vectorState{}, fmt.Errorf("transition (%v, %v) out of "+
				"range", buf, slot)
		}

		b := &s.Buffers[buf]
		if err := decodeFloats(obs, b.Obs[slot*s.ObsDim:(slot+1)*s.ObsDim]); err != nil {
			return vectorState{}, fmt.Errorf("obs of (%v, %v): %w", buf, slot, err)
		}
		if err := decodeFloats(act, b.Act[slot*s.ActDim:(slot+1)*s.ActDim]); err != nil {
			return vectorState{}, fmt.Errorf("act of (%v, %v): %w", buf, slot, err)
		}
		if err := decodeFloats(obsNext, b.ObsNext[slot*s.ObsDim:(slot+1)*s.ObsDim]); err != nil {
			return vectorState{}, fmt.Errorf("obs_next of (%v, %v): %w", buf, slot, err)
		}
		b.IDs[slot] = uint64(id)
		b.Rew[slot] = rew
		b.Terminated[slot] = terminated
		b.Truncated[slot] = truncated
	}
	return s, rows.Err()
}

// encodeFloats encodes floats as little endian IEEE 754 doubles
func encodeFloats(f []float64) []byte {
	out := make([]byte, 8*len(f))
	for i, v := range f {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// decodeFloats decodes a blob written by encodeFloats into dst
func decodeFloats(b []byte, dst []float64) error {
	if len(b) != 8*len(dst) {
		return fmt.Errorf("want %v bytes, got %v", 8*len(dst), len(b))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return nil
}

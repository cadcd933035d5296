// Copyright 2025 The springbokd Authors
// This file is part of the springbokd library.
//
// The springbokd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The springbokd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the springbokd library. If not, see <http://www.gnu.org/licenses/>.

// Package tier2 holds the second-tier network collaborators: the masternode,
// governance, spork and LLMQ managers and the flat snapshot files they are
// persisted in between runs.
package tier2

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/springbok/springbokd/common"
	"github.com/springbok/springbokd/log"
)

// Snapshot file names and their magic messages.
const (
	MetaCacheFile       = "mncache.dat"
	GovernanceCacheFile = "governance.dat"
	FulfilledCacheFile  = "netfulfilled.dat"
	SporkCacheFile      = "sporks.dat"

	MetaCacheMagic       = "magicMasternodeCache"
	GovernanceCacheMagic = "magicGovernanceCache"
	FulfilledCacheMagic  = "magicFulfilledCache"
	SporkCacheMagic      = "magicSporkCache"
)

var (
	// ErrIncorrectMagicMessage is returned for a file written by another cache.
	ErrIncorrectMagicMessage = errors.New("invalid magic message")
	// ErrIncorrectMagicNumber is returned for a file written on another network.
	ErrIncorrectMagicNumber = errors.New("invalid network magic number")
	// ErrIncorrectHash is returned when the checksum does not match the content.
	ErrIncorrectHash = errors.New("checksum mismatch, data corrupted")
	// ErrSnapshotTooLarge is returned for a file above the read limit.
	ErrSnapshotTooLarge = errors.New("cache file too large")

	errIncorrectFormat = errors.New("invalid format")
)

// maxSnapshotSize bounds a snapshot read into memory.
var maxSnapshotSize int64 = 256 * 1024 * 1024

// Snapshot is what a FlatDB persists. CheckAndRemove is called after a
// successful load to drop entries that expired while the node was down.
type Snapshot interface {
	CheckAndRemove()
	String() string
}

// FlatDB stores one Snapshot in a file of the data directory:
//
//	len(u32) | magic message | network magic(4) | len(u32) | snappy(json) | sha256
//
// The checksum covers everything before it.
type FlatDB struct {
	path     string
	magicMsg string
	netMagic [4]byte
	log      log.Logger
}

// NewFlatDB returns the store for the named file below dir.
func NewFlatDB(dir, filename, magicMsg string, netMagic [4]byte) *FlatDB {
	return &FlatDB{
		path:     filepath.Join(dir, filename),
		magicMsg: magicMsg,
		netMagic: netMagic,
		log:      log.New("file", filename),
	}
}

// Path returns the location of the snapshot file.
func (db *FlatDB) Path() string { return db.path }

// Load reads the snapshot into obj. A missing file, or one with the right
// magic holding data that cannot be decoded, is recreated from obj's current
// contents. Foreign magic values and checksum failures are errors.
func (db *FlatDB) Load(obj Snapshot) error {
	start := time.Now()
	err := db.read(obj)
	switch {
	case errors.Is(err, os.ErrNotExist):
		db.log.Info("Missing cache file, recreating")
		return db.Dump(obj)
	case errors.Is(err, errIncorrectFormat):
		db.log.Warn("Cache file has invalid format, recreating", "err", err)
		return db.Dump(obj)
	case err != nil:
		return fmt.Errorf("failed to load %s: %w", db.path, err)
	}
	obj.CheckAndRemove()
	db.log.Info("Loaded cache", "content", obj.String(), "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

func (db *FlatDB) read(obj Snapshot) error {
	f, err := os.Open(db.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > maxSnapshotSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrSnapshotTooLarge, info.Size(), maxSnapshotSize)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxSnapshotSize+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > maxSnapshotSize {
		return fmt.Errorf("%w: limit %d", ErrSnapshotTooLarge, maxSnapshotSize)
	}
	if len(data) < sha256.Size {
		return ErrIncorrectHash
	}
	body, sum := data[:len(data)-sha256.Size], data[len(data)-sha256.Size:]
	if digest := sha256.Sum256(body); !bytes.Equal(digest[:], sum) {
		return ErrIncorrectHash
	}
	r := bytes.NewReader(body)
	msg, err := readChunk(r)
	if err != nil || string(msg) != db.magicMsg {
		return ErrIncorrectMagicMessage
	}
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != db.netMagic {
		return ErrIncorrectMagicNumber
	}
	payload, err := readChunk(r)
	if err != nil {
		return fmt.Errorf("%w: %v", errIncorrectFormat, err)
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errIncorrectFormat, err)
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return fmt.Errorf("%w: %v", errIncorrectFormat, err)
	}
	return nil
}

// Dump writes obj atomically, replacing the previous snapshot.
func (db *FlatDB) Dump(obj Snapshot) error {
	start := time.Now()
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	writeChunk(&buf, []byte(db.magicMsg))
	buf.Write(db.netMagic[:])
	writeChunk(&buf, snappy.Encode(nil, raw))
	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])

	tmp := db.path + ".new"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		return err
	}
	db.log.Info("Written cache", "content", obj.String(), "size", common.StorageSize(buf.Len()),
		"elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

func writeChunk(buf *bytes.Buffer, data []byte) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(data))))
	buf.Write(data)
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if int(size) > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, size)
	_, err := io.ReadFull(r, data)
	return data, err
}

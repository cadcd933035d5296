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

// Package sanity holds the environment checks run before the node touches
// any persistent state.
package sanity

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/shirou/gopsutil/disk"
)

// MinDiskSpace is the free space every data directory must keep.
const MinDiskSpace = 50 * 1024 * 1024

var (
	ErrSHA256 = errors.New("SHA256 self-test failed")
	ErrRandom = errors.New("OS cryptographic RNG sanity check failure")
	ErrECC    = errors.New("elliptic curve cryptography sanity check failure")
)

// "abc" from FIPS 180-2.
const sha256Vector = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

// Check runs the cryptographic self tests. It must pass before any key or
// hash is trusted.
func Check() error {
	sum := sha256.Sum256([]byte("abc"))
	if hex.EncodeToString(sum[:]) != sha256Vector {
		return ErrSHA256
	}
	if err := checkRandom(); err != nil {
		return err
	}
	return checkECC()
}

func checkRandom() error {
	var a, b [32]byte
	if _, err := rand.Read(a[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrRandom, err)
	}
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrRandom, err)
	}
	if a == b || a == [32]byte{} {
		return ErrRandom
	}
	return nil
}

func checkECC() error {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrECC, err)
	}
	hash := sha256.Sum256([]byte("sanity"))
	sig := ecdsa.Sign(key, hash[:])
	if !sig.Verify(hash[:], key.PubKey()) {
		return ErrECC
	}
	// Round trip the public key through its compressed encoding.
	pub, err := secp256k1.ParsePubKey(key.PubKey().SerializeCompressed())
	if err != nil || !bytes.Equal(pub.SerializeCompressed(), key.PubKey().SerializeCompressed()) {
		return ErrECC
	}
	return nil
}

// CheckWritable reports whether files can be created in dir.
func CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".tmp")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// CheckDiskSpace reports whether dir has MinDiskSpace plus additional bytes
// free.
func CheckDiskSpace(dir string, additional uint64) (bool, error) {
	usage, err := disk.Usage(filepath.Clean(dir))
	if err != nil {
		return false, err
	}
	return usage.Free >= MinDiskSpace+additional, nil
}

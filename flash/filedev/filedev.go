// Copyright 2024 The Swapboot Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filedev backs the flash.Device capability with an ordinary file,
// typically a raw flash image to be programmed onto a device later, or a
// block device node on hosts that expose flash that way. It enforces the
// same alignment rules as real NOR flash so that host-side tooling catches
// geometry bugs before they reach hardware.
package filedev

import (
	"fmt"
	"os"

	"github.com/embedded-fw/swapboot/flash"
)

// Blank is written to erased ranges.
const Blank = 0xFF

// Device is a file-backed blocking flash device.
type Device struct {
	f         *os.File
	size      int64
	writeSize int
	eraseSize int
}

// Open opens path as a flash device with the given geometry. The file must
// exist; its current length is the device size.
func Open(path string, writeSize, eraseSize int) (*Device, error) {
	if writeSize <= 0 || eraseSize <= 0 || eraseSize%writeSize != 0 {
		return nil, fmt.Errorf("inconsistent geometry: write size %d, erase size %d", writeSize, eraseSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat flash image %q: %w", path, err)
	}
	return &Device{
		f:         f,
		size:      st.Size(),
		writeSize: writeSize,
		eraseSize: eraseSize,
	}, nil
}

// Create makes a fully erased flash image of size bytes at path, replacing
// any existing file, and opens it.
func Create(path string, size int64, writeSize, eraseSize int) (*Device, error) {
	blank := make([]byte, size)
	for i := range blank {
		blank[i] = Blank
	}
	if err := os.WriteFile(path, blank, 0o644); err != nil {
		return nil, fmt.Errorf("failed to create flash image %q: %w", path, err)
	}
	return Open(path, writeSize, eraseSize)
}

func (d *Device) WriteSize() int { return d.writeSize }
func (d *Device) EraseSize() int { return d.eraseSize }

// Size returns the device capacity in bytes.
func (d *Device) Size() int64 { return d.size }

// Close releases the backing file.
func (d *Device) Close() error { return d.f.Close() }

func (d *Device) ReadAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > d.size {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "read", Off: off}
	}
	if _, err := d.f.ReadAt(p, off); err != nil {
		return &flash.Error{Kind: flash.KindOther, Op: "read", Off: off, Err: err}
	}
	return nil
}

func (d *Device) WriteAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > d.size {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "write", Off: off}
	}
	if off%int64(d.writeSize) != 0 || len(p)%d.writeSize != 0 {
		return &flash.Error{Kind: flash.KindNotAligned, Op: "write", Off: off}
	}
	if _, err := d.f.WriteAt(p, off); err != nil {
		return &flash.Error{Kind: flash.KindOther, Op: "write", Off: off, Err: err}
	}
	return nil
}

func (d *Device) Erase(from, to int64) error {
	if from < 0 || from > to || to > d.size {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "erase", Off: from}
	}
	if from%int64(d.eraseSize) != 0 || (to-from)%int64(d.eraseSize) != 0 {
		return &flash.Error{Kind: flash.KindNotAligned, Op: "erase", Off: from}
	}
	blank := make([]byte, d.eraseSize)
	for i := range blank {
		blank[i] = Blank
	}
	for off := from; off < to; off += int64(d.eraseSize) {
		if _, err := d.f.WriteAt(blank, off); err != nil {
			return &flash.Error{Kind: flash.KindOther, Op: "erase", Off: off, Err: err}
		}
	}
	return nil
}

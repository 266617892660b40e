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

// Package flashtest provides an in-memory fake NOR flash device for tests:
// configurable write/erase geometry, operation counters, and power-cut
// injection at any mutating operation, optionally mid-operation.
package flashtest

import (
	"context"
	"errors"

	"github.com/embedded-fw/swapboot/flash"
)

// Blank is the erased byte value of the fake device.
const Blank = 0xFF

// ErrPowerCut is the failure injected by CutAfter once the cut point is
// reached.
var ErrPowerCut = errors.New("simulated power cut")

// Counters tallies operations performed on a Device.
type Counters struct {
	Reads  int
	Writes int
	Erases int
}

// Device is an in-memory flash implementing the blocking flash.Device
// capability. It enforces write and erase alignment the way real NOR flash
// drivers do. Use Context to obtain a native flash.ContextDevice over the
// same memory.
type Device struct {
	writeSize int
	eraseSize int
	mem       []byte

	// Counters is exported so tests can assert on wear.
	Counters Counters

	// cutAt > 0 arms a power cut: the cutAt-th mutating operation (and all
	// later ones) fail with ErrPowerCut. With partialCut the failing
	// operation first applies its leading half.
	cutAt      int
	partialCut bool
	mutations  int
}

// New returns a device of size bytes, fully erased. size must be a
// multiple of eraseSize and eraseSize a multiple of writeSize.
func New(size, writeSize, eraseSize int) *Device {
	if eraseSize%writeSize != 0 || size%eraseSize != 0 {
		panic("flashtest: inconsistent geometry")
	}
	d := &Device{
		writeSize: writeSize,
		eraseSize: eraseSize,
		mem:       make([]byte, size),
	}
	for i := range d.mem {
		d.mem[i] = Blank
	}
	return d
}

func (d *Device) WriteSize() int { return d.writeSize }
func (d *Device) EraseSize() int { return d.eraseSize }

// Mem exposes the backing memory for direct inspection and preloading.
func (d *Device) Mem() []byte { return d.mem }

// CutAfter arms a power cut on the n-th mutating operation from now
// (1-based). If partial is set the cut operation applies half of its effect
// before failing, modelling a write or erase interrupted mid-flight.
// CutAfter(0, false) disarms.
func (d *Device) CutAfter(n int, partial bool) {
	d.cutAt = n
	d.partialCut = partial
	d.mutations = 0
}

// cut reports whether the current mutating operation is the cut point.
func (d *Device) cut() (failNow, applyHalf bool) {
	if d.cutAt == 0 {
		return false, false
	}
	d.mutations++
	if d.mutations < d.cutAt {
		return false, false
	}
	return true, d.mutations == d.cutAt && d.partialCut
}

func (d *Device) ReadAt(p []byte, off int64) error {
	d.Counters.Reads++
	if off < 0 || off+int64(len(p)) > int64(len(d.mem)) {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "read", Off: off}
	}
	copy(p, d.mem[off:])
	return nil
}

func (d *Device) WriteAt(p []byte, off int64) error {
	d.Counters.Writes++
	if off < 0 || off+int64(len(p)) > int64(len(d.mem)) {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "write", Off: off}
	}
	if off%int64(d.writeSize) != 0 || len(p)%d.writeSize != 0 {
		return &flash.Error{Kind: flash.KindNotAligned, Op: "write", Off: off}
	}
	n := len(p)
	failNow, applyHalf := d.cut()
	if failNow {
		if applyHalf {
			copy(d.mem[off:], p[:n/2])
		}
		return &flash.Error{Kind: flash.KindOther, Op: "write", Off: off, Err: ErrPowerCut}
	}
	copy(d.mem[off:], p)
	return nil
}

func (d *Device) Erase(from, to int64) error {
	d.Counters.Erases++
	if from < 0 || from > to || to > int64(len(d.mem)) {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "erase", Off: from}
	}
	if from%int64(d.eraseSize) != 0 || (to-from)%int64(d.eraseSize) != 0 {
		return &flash.Error{Kind: flash.KindNotAligned, Op: "erase", Off: from}
	}
	end := to
	failNow, applyHalf := d.cut()
	if failNow {
		if applyHalf {
			end = from + (to-from)/2
			for i := from; i < end; i++ {
				d.mem[i] = Blank
			}
		}
		return &flash.Error{Kind: flash.KindOther, Op: "erase", Off: from, Err: ErrPowerCut}
	}
	for i := from; i < end; i++ {
		d.mem[i] = Blank
	}
	return nil
}

// Context returns a flash.ContextDevice over the same memory and counters.
// Each operation observes ctx before touching the device, mirroring a
// driver that suspends at I/O boundaries.
func (d *Device) Context() flash.ContextDevice {
	return ctxDevice{d}
}

type ctxDevice struct {
	d *Device
}

func (c ctxDevice) WriteSize() int { return c.d.writeSize }
func (c ctxDevice) EraseSize() int { return c.d.eraseSize }

func (c ctxDevice) ReadAt(ctx context.Context, p []byte, off int64) error {
	if err := ctx.Err(); err != nil {
		return &flash.Error{Kind: flash.KindOther, Op: "read", Off: off, Err: err}
	}
	return c.d.ReadAt(p, off)
}

func (c ctxDevice) WriteAt(ctx context.Context, p []byte, off int64) error {
	if err := ctx.Err(); err != nil {
		return &flash.Error{Kind: flash.KindOther, Op: "write", Off: off, Err: err}
	}
	return c.d.WriteAt(p, off)
}

func (c ctxDevice) Erase(ctx context.Context, from, to int64) error {
	if err := ctx.Err(); err != nil {
		return &flash.Error{Kind: flash.KindOther, Op: "erase", Off: from, Err: err}
	}
	return c.d.Erase(from, to)
}

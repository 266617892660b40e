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

package swapboot

import (
	"context"

	"github.com/embedded-fw/swapboot/flash"
)

// Partition is an immutable, bounds-checked window [From, To) into the
// address space of a flash device. Offsets passed to its operations are
// relative to From. A Partition holds no device handle; every operation
// borrows one for its duration.
type Partition struct {
	// From is the first absolute device address of the window.
	From uint32
	// To is one past the last absolute device address of the window.
	To uint32
}

// NewPartition returns the window [from, to). It panics if from > to, which
// indicates a platform configuration bug rather than a runtime condition.
func NewPartition(from, to uint32) Partition {
	if from > to {
		panic("swapboot: partition start exceeds end")
	}
	return Partition{From: from, To: to}
}

// Len returns the window length in bytes.
func (p Partition) Len() int {
	return int(p.To - p.From)
}

// check verifies that [off, off+n) lies within the window.
func (p Partition) check(op string, off uint32, n int) error {
	if int64(off)+int64(n) > int64(p.Len()) {
		return &flash.Error{
			Kind: flash.KindOutOfBounds,
			Op:   op,
			Off:  int64(p.From) + int64(off),
		}
	}
	return nil
}

// Read fills b from the partition starting at off.
func (p Partition) Read(ctx context.Context, dev flash.ContextDevice, off uint32, b []byte) error {
	if err := p.check("read", off, len(b)); err != nil {
		return err
	}
	return dev.ReadAt(ctx, b, int64(p.From)+int64(off))
}

// Write programs b to the partition starting at off. b must respect the
// device's write granularity.
func (p Partition) Write(ctx context.Context, dev flash.ContextDevice, off uint32, b []byte) error {
	if err := p.check("write", off, len(b)); err != nil {
		return err
	}
	return dev.WriteAt(ctx, b, int64(p.From)+int64(off))
}

// Erase resets the partition range [from, to) to the device's blank value.
// The range must respect the device's erase granularity.
func (p Partition) Erase(ctx context.Context, dev flash.ContextDevice, from, to uint32) error {
	if from > to {
		return &flash.Error{Kind: flash.KindOutOfBounds, Op: "erase", Off: int64(p.From) + int64(from)}
	}
	if err := p.check("erase", from, int(to-from)); err != nil {
		return err
	}
	return dev.Erase(ctx, int64(p.From)+int64(from), int64(p.From)+int64(to))
}

// Wipe erases the whole partition.
func (p Partition) Wipe(ctx context.Context, dev flash.ContextDevice) error {
	return p.Erase(ctx, dev, 0, uint32(p.Len()))
}

// ReadBlocking is the blocking form of Read.
func (p Partition) ReadBlocking(dev flash.Device, off uint32, b []byte) error {
	return p.Read(context.Background(), flash.Blocking(dev), off, b)
}

// WriteBlocking is the blocking form of Write.
func (p Partition) WriteBlocking(dev flash.Device, off uint32, b []byte) error {
	return p.Write(context.Background(), flash.Blocking(dev), off, b)
}

// EraseBlocking is the blocking form of Erase.
func (p Partition) EraseBlocking(dev flash.Device, from, to uint32) error {
	return p.Erase(context.Background(), flash.Blocking(dev), from, to)
}

// WipeBlocking is the blocking form of Wipe.
func (p Partition) WipeBlocking(dev flash.Device) error {
	return p.Wipe(context.Background(), flash.Blocking(dev))
}

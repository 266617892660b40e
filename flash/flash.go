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

// Package flash defines the device capability consumed by the swapboot
// state machine: byte-addressable reads, page-aligned writes and
// sector-aligned erases over raw NOR/NAND flash.
//
// The capability comes in two behaviourally identical forms: Device, whose
// operations block the calling goroutine inside the driver, and
// ContextDevice, whose operations additionally honour context cancellation
// at each I/O call. Blocking adapts the former to the latter so that
// algorithms can be written once against ContextDevice.
package flash

import (
	"context"
	"fmt"
)

// ErrorKind classifies a failed flash operation. The set mirrors what raw
// flash drivers can meaningfully report; anything driver-specific is
// KindOther with the cause attached.
type ErrorKind int

const (
	// KindOther is a driver-specific failure.
	KindOther ErrorKind = iota
	// KindNotAligned reports an offset or length violating the device's
	// write or erase granularity.
	KindNotAligned
	// KindOutOfBounds reports an access outside the addressable range.
	KindOutOfBounds
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotAligned:
		return "not aligned"
	case KindOutOfBounds:
		return "out of bounds"
	default:
		return "other"
	}
}

// Error is the failure raised by a flash device or by the bounds and
// alignment checks layered on top of one.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Op names the failed operation ("read", "write", "erase").
	Op string
	// Off is the absolute device offset of the failed access.
	Off int64
	// Err is the underlying driver error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flash %s at %#x: %s: %v", e.Op, e.Off, e.Kind, e.Err)
	}
	return fmt.Sprintf("flash %s at %#x: %s", e.Op, e.Off, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Device is the blocking flash capability. Offsets are absolute device
// addresses. Writes must be aligned to WriteSize, erases to EraseSize; an
// erase resets the range to the device's blank value (0xFF).
//
// A Device is not safe for concurrent use; callers serialize access.
type Device interface {
	// WriteSize returns the write granularity in bytes.
	WriteSize() int
	// EraseSize returns the erase granularity in bytes.
	EraseSize() int
	// ReadAt fills p from the device starting at off.
	ReadAt(p []byte, off int64) error
	// WriteAt programs p to the device starting at off.
	WriteAt(p []byte, off int64) error
	// Erase resets [from, to) to the blank value.
	Erase(from, to int64) error
}

// ContextDevice is the suspending flash capability. Implementations may
// park the calling goroutine awaiting hardware completion and must observe
// ctx at each operation; no other suspension points exist.
type ContextDevice interface {
	WriteSize() int
	EraseSize() int
	ReadAt(ctx context.Context, p []byte, off int64) error
	WriteAt(ctx context.Context, p []byte, off int64) error
	Erase(ctx context.Context, from, to int64) error
}

// Blocking adapts a Device to the ContextDevice contract. The context is
// ignored: a blocking device never suspends, so there is no I/O boundary at
// which cancellation could be observed.
func Blocking(d Device) ContextDevice { return blocking{d} }

type blocking struct {
	d Device
}

func (b blocking) WriteSize() int { return b.d.WriteSize() }
func (b blocking) EraseSize() int { return b.d.EraseSize() }

func (b blocking) ReadAt(_ context.Context, p []byte, off int64) error {
	return b.d.ReadAt(p, off)
}

func (b blocking) WriteAt(_ context.Context, p []byte, off int64) error {
	return b.d.WriteAt(p, off)
}

func (b blocking) Erase(_ context.Context, from, to int64) error {
	return b.d.Erase(from, to)
}

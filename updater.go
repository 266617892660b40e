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
	"k8s.io/klog/v2"
)

// FirmwareUpdater is the application's handle on the bootloader handshake.
// It owns the state and DFU partition descriptors and nothing else: every
// operation borrows a flash device for its duration, so the caller decides
// which concrete device backs each partition and retains access to the
// device between calls.
//
// The context-taking methods suspend only while awaiting flash I/O. The
// *Blocking methods are the same algorithms instantiated over a blocking
// device. A FirmwareUpdater is not safe for concurrent use.
type FirmwareUpdater struct {
	state Partition
	dfu   Partition

	// verifier is the signature backend, nil on an unverified updater.
	// MarkUpdated and VerifyAndMarkUpdated are mutually exclusive surfaces
	// selected by this field at construction time.
	verifier ImageVerifier
}

// New returns an updater without a verification backend: staged images are
// armed with MarkUpdated and VerifyAndMarkUpdated always rejects.
func New(dfu, state Partition) *FirmwareUpdater {
	klog.V(2).Infof("swapboot: DFU %#x-%#x, state %#x-%#x", dfu.From, dfu.To, state.From, state.To)
	return &FirmwareUpdater{state: state, dfu: dfu}
}

// NewVerified returns an updater whose staged images must pass the given
// signature backend before being armed. On such an updater the unverified
// MarkUpdated path does not exist: calling it panics, so verification
// cannot be bypassed by accident.
func NewVerified(dfu, state Partition, v ImageVerifier) *FirmwareUpdater {
	if v == nil {
		panic("swapboot: NewVerified requires a verification backend")
	}
	u := New(dfu, state)
	u.verifier = v
	return u
}

// FirmwareLen returns the byte capacity of the DFU partition. Callers use
// it to size and chunk an incoming image before staging.
func (u *FirmwareUpdater) FirmwareLen() int {
	return u.dfu.Len()
}

// checkAligned enforces the scratch-buffer precondition shared by every
// state operation. A mismatch is a caller/device configuration bug, not a
// runtime condition, so it is fatal.
func checkAligned(aligned []byte, writeSize int) {
	if len(aligned) != writeSize {
		panic("swapboot: scratch buffer length must equal the device write granularity")
	}
}

// GetState derives the current boot intent from the state partition. The
// scratch buffer must be dev.WriteSize() bytes. No side effects.
func (u *FirmwareUpdater) GetState(ctx context.Context, dev flash.ContextDevice, aligned []byte) (State, error) {
	checkAligned(aligned, dev.WriteSize())
	if err := u.state.Read(ctx, dev, 0, aligned); err != nil {
		return Boot, flashErr(err)
	}
	if allBytes(aligned, SwapMagic) {
		return Swap, nil
	}
	return Boot, nil
}

// GetStateBlocking is the blocking form of GetState.
func (u *FirmwareUpdater) GetStateBlocking(dev flash.Device, aligned []byte) (State, error) {
	return u.GetState(context.Background(), flash.Blocking(dev), aligned)
}

// MarkBooted records that the running image is good, cancelling any pending
// rollback on reset. The scratch buffer must be dev.WriteSize() bytes.
func (u *FirmwareUpdater) MarkBooted(ctx context.Context, dev flash.ContextDevice, aligned []byte) error {
	checkAligned(aligned, dev.WriteSize())
	return u.setMagic(ctx, dev, aligned, BootMagic)
}

// MarkBootedBlocking is the blocking form of MarkBooted.
func (u *FirmwareUpdater) MarkBootedBlocking(dev flash.Device, aligned []byte) error {
	return u.MarkBooted(context.Background(), flash.Blocking(dev), aligned)
}

// MarkUpdated arms the staged image for activation on the next boot without
// verifying it. It exists only on an updater constructed with New; on a
// verified updater it panics. The scratch buffer must be dev.WriteSize()
// bytes.
func (u *FirmwareUpdater) MarkUpdated(ctx context.Context, dev flash.ContextDevice, aligned []byte) error {
	if u.verifier != nil {
		panic("swapboot: MarkUpdated would bypass the configured verification backend, use VerifyAndMarkUpdated")
	}
	checkAligned(aligned, dev.WriteSize())
	return u.setMagic(ctx, dev, aligned, SwapMagic)
}

// MarkUpdatedBlocking is the blocking form of MarkUpdated.
func (u *FirmwareUpdater) MarkUpdatedBlocking(dev flash.Device, aligned []byte) error {
	return u.MarkUpdated(context.Background(), flash.Blocking(dev), aligned)
}

// VerifyAndMarkUpdated authenticates the staged image and, only on success,
// arms it for activation on the next boot. The image's first updateLen
// bytes are streamed from the DFU partition through the backend's digest in
// scratch-buffer strides, then signature is checked against publicKey over
// the finalized digest. A rejected image is never armed.
//
// dev must cover both partitions. updateLen must not exceed FirmwareLen()
// and the scratch buffer must be dev.WriteSize() bytes; violations are
// fatal. Without a verification backend this method always returns a
// SignatureError.
func (u *FirmwareUpdater) VerifyAndMarkUpdated(ctx context.Context, dev flash.ContextDevice, publicKey, signature []byte, updateLen int, aligned []byte) error {
	if u.verifier == nil {
		return &SignatureError{Reason: "no verification backend configured"}
	}
	checkAligned(aligned, dev.WriteSize())
	if updateLen > u.dfu.Len() {
		panic("swapboot: update length exceeds DFU partition capacity")
	}

	digest := u.verifier.NewDigest()
	for offset := 0; offset < updateLen; offset += len(aligned) {
		if err := u.dfu.Read(ctx, dev, uint32(offset), aligned); err != nil {
			return flashErr(err)
		}
		n := updateLen - offset
		if n > len(aligned) {
			n = len(aligned)
		}
		digest.Write(aligned[:n])
	}
	if err := u.verifier.Verify(publicKey, signature, digest.Sum(nil)); err != nil {
		return &SignatureError{Err: err}
	}
	klog.V(2).Infof("swapboot: staged image of %d bytes verified, arming swap", updateLen)

	return u.setMagic(ctx, dev, aligned, SwapMagic)
}

// VerifyAndMarkUpdatedBlocking is the blocking form of VerifyAndMarkUpdated.
func (u *FirmwareUpdater) VerifyAndMarkUpdatedBlocking(dev flash.Device, publicKey, signature []byte, updateLen int, aligned []byte) error {
	return u.VerifyAndMarkUpdated(context.Background(), flash.Blocking(dev), publicKey, signature, updateLen, aligned)
}

// setMagic moves the persisted state block to all-magic, tolerating a power
// cut at any instant. If the block already holds the target the call is an
// idempotent no-op performing zero writes. Otherwise the block passes
// through all-zero (write), a full partition erase, and the target write,
// in that order; reordering breaks the crash-safety contract, since a
// partially programmed block must never read as a complete magic that was
// not intended.
func (u *FirmwareUpdater) setMagic(ctx context.Context, dev flash.ContextDevice, aligned []byte, magic byte) error {
	if err := u.state.Read(ctx, dev, 0, aligned); err != nil {
		return flashErr(err)
	}
	if allBytes(aligned, magic) {
		return nil
	}
	klog.V(3).Infof("swapboot: state transition to %#x", magic)

	fill(aligned, 0)
	if err := u.state.Write(ctx, dev, 0, aligned); err != nil {
		return flashErr(err)
	}
	if err := u.state.Wipe(ctx, dev); err != nil {
		return flashErr(err)
	}
	fill(aligned, magic)
	if err := u.state.Write(ctx, dev, 0, aligned); err != nil {
		return flashErr(err)
	}
	return nil
}

// WriteFirmware erases exactly [offset, offset+len(data)) of the DFU
// partition and writes data through a FirmwareWriter in blockSize chunks.
// It supports incremental or out-of-order staging at the cost of repeated
// erases over overlapping erase units; for a single whole-image session
// PrepareUpdate amortizes the erase instead.
//
// len(data) must be at least one erase unit; a shorter write would erase
// beyond the data it stages, which is a caller bug and therefore fatal.
func (u *FirmwareUpdater) WriteFirmware(ctx context.Context, dev flash.ContextDevice, offset int, data []byte, blockSize int) error {
	if len(data) < dev.EraseSize() {
		panic("swapboot: firmware write shorter than one erase unit")
	}
	if err := u.dfu.Erase(ctx, dev, uint32(offset), uint32(offset+len(data))); err != nil {
		return flashErr(err)
	}
	if err := (FirmwareWriter{u.dfu}).WriteBlock(ctx, dev, offset, data, blockSize); err != nil {
		return flashErr(err)
	}
	return nil
}

// WriteFirmwareBlocking is the blocking form of WriteFirmware.
func (u *FirmwareUpdater) WriteFirmwareBlocking(dev flash.Device, offset int, data []byte, blockSize int) error {
	return u.WriteFirmware(context.Background(), flash.Blocking(dev), offset, data, blockSize)
}

// PrepareUpdate erases the whole DFU partition once and returns a writer
// bound to it, for callers streaming an entire image in one session.
// Callers must not write past FirmwareLen().
func (u *FirmwareUpdater) PrepareUpdate(ctx context.Context, dev flash.ContextDevice) (FirmwareWriter, error) {
	if err := u.dfu.Wipe(ctx, dev); err != nil {
		return FirmwareWriter{}, flashErr(err)
	}
	return FirmwareWriter{u.dfu}, nil
}

// PrepareUpdateBlocking is the blocking form of PrepareUpdate.
func (u *FirmwareUpdater) PrepareUpdateBlocking(dev flash.Device) (FirmwareWriter, error) {
	return u.PrepareUpdate(context.Background(), flash.Blocking(dev))
}

func allBytes(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

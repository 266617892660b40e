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

// Package swapboot implements the application side of an A/B firmware
// update handshake with a bootloader that performs image swaps on raw
// flash.
//
// The running application uses a FirmwareUpdater to discover whether the
// bootloader has just swapped in a new image, to stage a replacement image
// into the inactive (DFU) partition, and to persist its intent for the next
// boot: MarkBooted confirms the running image and cancels any pending
// rollback, MarkUpdated (or its signature-checked twin
// VerifyAndMarkUpdated) arms the staged image for activation.
//
// Intent is persisted as a single magic byte replicated across the first
// write-granularity block of a small state partition. Transitions between
// magics pass through an all-zero intermediate block so that a power cut at
// any instant leaves the block readable as either the previous intent or a
// recognizable in-progress value, never as the wrong magic. Interpretation
// of the in-progress value is the bootloader's business; this package only
// guarantees the writer-side contract.
//
// Every operation exists in two behaviourally identical families: one over
// a blocking flash.Device and one over a context-aware flash.ContextDevice
// which may suspend at flash I/O calls. Both are instantiations of a single
// algorithm. Nothing here is safe for concurrent use on the same partition
// pair; callers serialize.
package swapboot

const (
	// BootMagic confirms the running image and stops a pending rollback.
	BootMagic = 0xD6
	// SwapMagic requests activation of the staged image on the next boot.
	SwapMagic = 0xF0
)

// State is the persisted boot intent, derived from the first aligned block
// of the state partition.
type State int

const (
	// Boot is normal operation: the currently running image is the one to
	// keep. An erased or in-progress state block also reads as Boot.
	Boot State = iota
	// Swap means a swap has been requested, or has just been performed and
	// awaits confirmation via MarkBooted.
	Swap
)

func (s State) String() string {
	switch s {
	case Boot:
		return "BOOT"
	case Swap:
		return "SWAP"
	default:
		return "UNKNOWN"
	}
}

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

// FirmwareWriter sequences an arbitrary-length byte stream into a partition
// in block-aligned chunks. Obtain one from PrepareUpdate; the writer is
// scoped to the update partition and callers must not write past its
// length.
type FirmwareWriter struct {
	part Partition
}

// WriteBlock writes data into the partition at offset, in chunks of at most
// blockSize bytes. blockSize and len(data) must respect the device's write
// granularity; the partition is assumed to be erased beforehand.
func (w FirmwareWriter) WriteBlock(ctx context.Context, dev flash.ContextDevice, offset int, data []byte, blockSize int) error {
	if blockSize <= 0 {
		panic("swapboot: block size must be positive")
	}
	for chunk := 0; chunk < len(data); chunk += blockSize {
		end := chunk + blockSize
		if end > len(data) {
			end = len(data)
		}
		if err := w.part.Write(ctx, dev, uint32(offset+chunk), data[chunk:end]); err != nil {
			return err
		}
	}
	return nil
}

// WriteBlockBlocking is the blocking form of WriteBlock.
func (w FirmwareWriter) WriteBlockBlocking(dev flash.Device, offset int, data []byte, blockSize int) error {
	return w.WriteBlock(context.Background(), flash.Blocking(dev), offset, data, blockSize)
}

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

import "hash"

// An ImageVerifier authenticates a staged firmware image from a streaming
// digest of its bytes, so that VerifyAndMarkUpdated never needs the whole
// image in memory. Exactly one backend is selected when the updater is
// constructed; see NewVerified.
type ImageVerifier interface {
	// NewDigest returns a fresh digest for one verification pass. The image
	// bytes are streamed through it in write-granularity strides.
	NewDigest() hash.Hash

	// Verify checks signature over the finalized digest under publicKey,
	// returning nil only if the image is authentic. Malformed key or
	// signature material is a rejection, not a panic.
	Verify(publicKey, signature, digest []byte) error
}

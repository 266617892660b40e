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

// Package ed25519verify is the reference signature backend for swapboot:
// images are digested with SHA-512 and the signature is Ed25519 over the
// 64-byte digest. Signatures are produced by the swapsign tool or any
// signer following the same scheme.
package ed25519verify

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/ed25519"
)

// Verifier implements swapboot.ImageVerifier.
type Verifier struct{}

// New returns the backend.
func New() Verifier { return Verifier{} }

// NewDigest returns a SHA-512 digest for one verification pass.
func (Verifier) NewDigest() hash.Hash { return sha512.New() }

// Verify checks an Ed25519 signature over the finalized image digest.
func (Verifier) Verify(publicKey, signature, digest []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("public key is %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature is %d bytes, want %d", len(signature), ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), digest, signature) {
		return errors.New("ed25519 signature mismatch")
	}
	return nil
}

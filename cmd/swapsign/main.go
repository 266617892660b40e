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

// swapsign is the producer-side companion to the ed25519verify backend: it
// derives Ed25519 signing keys from a release secret and signs firmware
// images with the SHA-512-digest scheme that VerifyAndMarkUpdated checks.
package main

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goombaio/namegenerator"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/hkdf"
	"k8s.io/klog/v2"
)

var (
	keygen     = flag.Bool("keygen", false, "Derive a named Ed25519 keypair from -secret and write it to -out_dir.")
	secretPath = flag.String("secret", "", "Path to the release secret the keypair is derived from.")
	outDir     = flag.String("out_dir", ".", "Directory to write generated key files into.")

	sign      = flag.Bool("sign", false, "Sign the -image with -key and write the hex signature to -sig.")
	keyPath   = flag.String("key", "", "Hex-encoded Ed25519 private key file.")
	imagePath = flag.String("image", "", "Firmware image to sign.")
	sigPath   = flag.String("sig", "", "Output path for the hex-encoded signature.")
)

const keyDiversifier = "swapboot firmware signing v1"

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	switch {
	case *keygen:
		if *secretPath == "" {
			klog.Exit("-keygen requires -secret")
		}
		doKeygen()
	case *sign:
		if *keyPath == "" || *imagePath == "" || *sigPath == "" {
			klog.Exit("-sign requires -key, -image and -sig")
		}
		doSign()
	default:
		klog.Exit("one of -keygen or -sign is required")
	}
}

// doKeygen derives a keypair from the release secret. The derivation is
// deterministic for a given secret, so the same secret always reproduces
// the same key and name.
func doKeygen() {
	secret, err := os.ReadFile(*secretPath)
	if err != nil {
		klog.Exitf("Failed to read secret: %v", err)
	}

	r := hkdf.New(sha256.New, secret, nil, []byte(keyDiversifier))
	name := randomName(r)
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		klog.Exitf("Failed to generate derived key: %v", err)
	}

	privPath := filepath.Join(*outDir, name+".key")
	pubPath := filepath.Join(*outDir, name+".pub")
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
		klog.Exitf("Failed to write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)+"\n"), 0o644); err != nil {
		klog.Exitf("Failed to write public key: %v", err)
	}
	fmt.Printf("wrote %s and %s\n", privPath, pubPath)
}

func doSign() {
	raw, err := os.ReadFile(*keyPath)
	if err != nil {
		klog.Exitf("Failed to read key: %v", err)
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		klog.Exitf("Failed to decode key: %v", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		klog.Exitf("Private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	image, err := os.ReadFile(*imagePath)
	if err != nil {
		klog.Exitf("Failed to read image: %v", err)
	}

	digest := sha512.Sum512(image)
	sig := ed25519.Sign(ed25519.PrivateKey(priv), digest[:])
	if err := os.WriteFile(*sigPath, []byte(hex.EncodeToString(sig)+"\n"), 0o644); err != nil {
		klog.Exitf("Failed to write signature: %v", err)
	}
	fmt.Printf("signed %d bytes, signature written to %s\n", len(image), *sigPath)
}

// randomName generates a human-friendly key name from the derivation
// stream.
func randomName(rnd io.Reader) string {
	nSeed := make([]byte, 8)
	if _, err := rnd.Read(nSeed); err != nil {
		klog.Exitf("Failed to read name entropy: %v", err)
	}
	ng := namegenerator.NewNameGenerator(int64(binary.LittleEndian.Uint64(nSeed)))
	return ng.Generate()
}

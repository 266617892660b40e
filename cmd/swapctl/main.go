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

// swapctl drives the swapboot handshake against a raw flash image file, so
// the full update flow can be exercised and inspected on a host before the
// image is programmed onto a device.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/embedded-fw/swapboot"
	"github.com/embedded-fw/swapboot/ed25519verify"
	"github.com/embedded-fw/swapboot/flash/filedev"
	"github.com/embedded-fw/swapboot/layout"
	"k8s.io/klog/v2"
)

var (
	flashPath  = flag.String("flash", "", "Path to the raw flash image file.")
	layoutPath = flag.String("layout", "", "Path to the YAML memory layout describing the state and DFU regions.")
	writeSize  = flag.Int("write_size", 4, "Write granularity of the target flash in bytes.")
	eraseSize  = flag.Int("erase_size", 4096, "Erase granularity of the target flash in bytes.")

	status  = flag.Bool("status", false, "Report the persisted boot state and DFU capacity.")
	stage   = flag.String("stage", "", "Firmware file to stage into the DFU partition.")
	arm     = flag.Bool("arm", false, "Arm the staged image for swap on next boot (unverified).")
	confirm = flag.Bool("confirm", false, "Confirm the running image and cancel any pending rollback.")

	verifyArm = flag.Bool("verify_arm", false, "Verify the staged image signature, then arm it.")
	pubPath   = flag.String("pub", "", "Hex-encoded Ed25519 public key file, for -verify_arm.")
	sigPath   = flag.String("sig", "", "Hex-encoded image signature file, for -verify_arm.")
	imageLen  = flag.Int("image_len", 0, "Exact staged image length in bytes, for -verify_arm.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flashPath == "" || *layoutPath == "" {
		klog.Exit("both -flash and -layout are required")
	}
	l, err := layout.Load(*layoutPath)
	if err != nil {
		klog.Exitf("Failed to load layout: %v", err)
	}
	dev, err := filedev.Open(*flashPath, *writeSize, *eraseSize)
	if err != nil {
		klog.Exitf("Failed to open flash image: %v", err)
	}
	defer dev.Close()

	state, dfu := l.Partitions()
	aligned := make([]byte, dev.WriteSize())

	switch {
	case *status:
		u := swapboot.New(dfu, state)
		st, err := u.GetStateBlocking(dev, aligned)
		if err != nil {
			klog.Exitf("Failed to read state: %v", err)
		}
		fmt.Printf("state: %v\ndfu capacity: %d bytes\n", st, u.FirmwareLen())

	case *stage != "":
		u := swapboot.New(dfu, state)
		data, err := os.ReadFile(*stage)
		if err != nil {
			klog.Exitf("Failed to read firmware %q: %v", *stage, err)
		}
		if len(data) > u.FirmwareLen() {
			klog.Exitf("Firmware of %d bytes exceeds DFU capacity of %d", len(data), u.FirmwareLen())
		}
		w, err := u.PrepareUpdateBlocking(dev)
		if err != nil {
			klog.Exitf("Failed to prepare DFU partition: %v", err)
		}
		if err := w.WriteBlockBlocking(dev, 0, pad(data, dev.WriteSize()), dev.EraseSize()); err != nil {
			klog.Exitf("Failed to stage firmware: %v", err)
		}
		fmt.Printf("staged %d bytes (arm with -verify_arm -image_len %d, or -arm)\n", len(data), len(data))

	case *arm:
		u := swapboot.New(dfu, state)
		if err := u.MarkUpdatedBlocking(dev, aligned); err != nil {
			klog.Exitf("Failed to arm staged image: %v", err)
		}
		fmt.Println("swap armed for next boot")

	case *confirm:
		u := swapboot.New(dfu, state)
		if err := u.MarkBootedBlocking(dev, aligned); err != nil {
			klog.Exitf("Failed to confirm image: %v", err)
		}
		fmt.Println("running image confirmed")

	case *verifyArm:
		if *pubPath == "" || *sigPath == "" || *imageLen <= 0 {
			klog.Exit("-verify_arm requires -pub, -sig and -image_len")
		}
		pub, err := readHexFile(*pubPath)
		if err != nil {
			klog.Exitf("Failed to read public key: %v", err)
		}
		sig, err := readHexFile(*sigPath)
		if err != nil {
			klog.Exitf("Failed to read signature: %v", err)
		}
		u := swapboot.NewVerified(dfu, state, ed25519verify.New())
		if err := u.VerifyAndMarkUpdatedBlocking(dev, pub, sig, *imageLen, aligned); err != nil {
			klog.Exitf("Verification failed, image NOT armed: %v", err)
		}
		fmt.Println("image verified, swap armed for next boot")

	default:
		klog.Exit("one of -status, -stage, -arm, -confirm or -verify_arm is required")
	}
}

// pad extends data to the write granularity with the erased value.
func pad(data []byte, writeSize int) []byte {
	rem := len(data) % writeSize
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+writeSize-rem)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = filedev.Blank
	}
	return padded
}

func readHexFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(b)))
}

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

// Package rollout executes one firmware install session against a swapboot
// updater: it authenticates a release manifest, guards against rollback,
// streams the image into the DFU partition, and arms the verified image for
// the next boot.
//
// Deciding when to update, and fetching release data, remain the caller's
// business: an Installer only runs the session it is handed through the
// Source interface.
package rollout

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/embedded-fw/swapboot"
	"github.com/embedded-fw/swapboot/flash"
	"github.com/machinebox/progress"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"
)

// Manifest describes one firmware release. It travels as the text of a
// note signed by the release key, so its integrity is established before
// any of its fields are trusted.
type Manifest struct {
	// Component identifies what the image is for, e.g. "app".
	Component string `json:"component"`

	// Version is the release version, used for the rollback guard.
	Version semver.Version `json:"version"`

	// ImageLength is the exact byte length of the firmware image.
	ImageLength int64 `json:"image_length"`

	// ImageSHA512 is the SHA-512 digest of the image bytes. Staged bytes
	// must hash to this before the image is considered for activation.
	ImageSHA512 []byte `json:"image_sha512"`

	// Signature is the Ed25519 signature over ImageSHA512 under the image
	// signing key provisioned on the device. It is handed to
	// VerifyAndMarkUpdated, which recomputes the digest from flash.
	Signature []byte `json:"signature"`
}

// A Source supplies one release to install. Implementations decide the
// transport; both methods may be called once per session.
type Source interface {
	// Manifest returns the note-signed release manifest.
	Manifest() ([]byte, error)
	// Image returns a reader over the firmware image bytes.
	Image() (io.ReadCloser, error)
}

// Config collects the fixed collaborators of an Installer.
type Config struct {
	// Updater performs the staging and the state transition. It must have
	// been constructed with swapboot.NewVerified for sessions to succeed.
	Updater *swapboot.FirmwareUpdater

	// Device backs both partitions of Updater.
	Device flash.ContextDevice

	// ManifestVerifier is the note verifier for the release key that signs
	// manifests.
	ManifestVerifier note.Verifier

	// ImagePublicKey is the Ed25519 public key the staged image must be
	// signed under.
	ImagePublicKey []byte

	// Installed is the version currently running; sessions carrying this
	// version or older are refused.
	Installed semver.Version
}

// Installer runs install sessions. It is not safe for concurrent use, and
// at most one session may touch a given partition pair at a time.
type Installer struct {
	cfg Config
}

// NewInstaller validates cfg and returns an Installer.
func NewInstaller(cfg Config) (*Installer, error) {
	if cfg.Updater == nil || cfg.Device == nil {
		return nil, fmt.Errorf("updater and device are required")
	}
	if cfg.ManifestVerifier == nil {
		return nil, fmt.Errorf("manifest verifier is required")
	}
	if len(cfg.ImagePublicKey) == 0 {
		return nil, fmt.Errorf("image public key is required")
	}
	return &Installer{cfg: cfg}, nil
}

// Install runs one session: verify the manifest, stage the image, verify
// the staged bytes, and arm the swap. On success the returned manifest
// describes what was armed; the caller decides when to reboot. On any error
// the state partition is untouched.
func (i *Installer) Install(ctx context.Context, src Source) (*Manifest, error) {
	counterSessionsStarted.Inc()
	m, err := i.openManifest(src)
	if err != nil {
		counterSessionsFailed.Inc()
		return nil, err
	}
	if err := i.stage(ctx, src, m); err != nil {
		counterSessionsFailed.Inc()
		return nil, err
	}

	aligned := make([]byte, i.cfg.Device.WriteSize())
	if err := i.cfg.Updater.VerifyAndMarkUpdated(ctx, i.cfg.Device, i.cfg.ImagePublicKey, m.Signature, int(m.ImageLength), aligned); err != nil {
		counterSessionsFailed.Inc()
		return nil, fmt.Errorf("staged image failed verification: %w", err)
	}
	counterSessionsArmed.Inc()
	klog.Infof("rollout: %s %s staged and armed for next boot", m.Component, m.Version)
	return m, nil
}

// openManifest fetches, authenticates and sanity-checks the manifest.
func (i *Installer) openManifest(src Source) (*Manifest, error) {
	raw, err := src.Manifest()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %v", err)
	}
	n, err := note.Open(raw, note.VerifierList(i.cfg.ManifestVerifier))
	if err != nil {
		return nil, fmt.Errorf("manifest note verification failed: %v", err)
	}
	m := &Manifest{}
	if err := json.Unmarshal([]byte(n.Text), m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %v", err)
	}
	if !i.cfg.Installed.LessThan(m.Version) {
		counterRollbacksRefused.Inc()
		return nil, fmt.Errorf("refusing rollback: installed %s, offered %s", i.cfg.Installed, m.Version)
	}
	if m.ImageLength <= 0 {
		return nil, fmt.Errorf("manifest image length %d is invalid", m.ImageLength)
	}
	if m.ImageLength > int64(i.cfg.Updater.FirmwareLen()) {
		return nil, fmt.Errorf("image of %d bytes exceeds DFU capacity of %d", m.ImageLength, i.cfg.Updater.FirmwareLen())
	}
	if len(m.ImageSHA512) != sha512.Size {
		return nil, fmt.Errorf("manifest image digest is %d bytes, want %d", len(m.ImageSHA512), sha512.Size)
	}
	return m, nil
}

// stage streams the image into the DFU partition and cross-checks the
// manifest digest over the bytes actually staged.
func (i *Installer) stage(ctx context.Context, src Source, m *Manifest) error {
	r, err := src.Image()
	if err != nil {
		return fmt.Errorf("failed to open image: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	digest := sha512.New()
	pr := progress.NewReader(io.TeeReader(io.LimitReader(r, m.ImageLength), digest))
	go func() {
		for p := range progress.NewTicker(ctx, pr, m.ImageLength, time.Second) {
			klog.V(1).Infof("rollout: staging %.1f%% complete", p.Percent())
		}
	}()

	w, err := i.cfg.Updater.PrepareUpdate(ctx, i.cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to prepare DFU partition: %w", err)
	}

	writeSize := i.cfg.Device.WriteSize()
	// Stage in erase-unit-sized chunks, padding the tail of the final
	// chunk to the write granularity with the erased value.
	buf := make([]byte, i.cfg.Device.EraseSize())
	var staged int64
	for staged < m.ImageLength {
		n, err := io.ReadFull(pr, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			if staged+int64(n) != m.ImageLength {
				return fmt.Errorf("image truncated: got %d bytes, manifest says %d", staged+int64(n), m.ImageLength)
			}
		} else if err != nil {
			return fmt.Errorf("failed to read image: %v", err)
		}
		padded := n
		if rem := padded % writeSize; rem != 0 {
			pad := writeSize - rem
			for j := 0; j < pad; j++ {
				buf[padded+j] = 0xFF
			}
			padded += pad
		}
		if err := w.WriteBlock(ctx, i.cfg.Device, int(staged), buf[:padded], writeSize); err != nil {
			return fmt.Errorf("failed to stage image at %#x: %w", staged, err)
		}
		staged += int64(n)
		counterBytesStaged.Add(float64(n))
	}

	if got := digest.Sum(nil); !bytes.Equal(got, m.ImageSHA512) {
		return fmt.Errorf("image digest mismatch: manifest says %x but image bytes hash to %x", m.ImageSHA512, got)
	}
	return nil
}

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

package rollout

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/coreos/go-semver/semver"
	"github.com/embedded-fw/swapboot"
	"github.com/embedded-fw/swapboot/ed25519verify"
	"github.com/embedded-fw/swapboot/flash/flashtest"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/mod/sumdb/note"
)

const (
	writeSize = 4
	eraseSize = 64
	devSize   = 4096
)

type fakeSource struct {
	manifest []byte
	image    []byte
}

func (s *fakeSource) Manifest() ([]byte, error) {
	return s.manifest, nil
}

func (s *fakeSource) Image() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.image)), nil
}

// release is a fully signed test release: a manifest note and the matching
// image bytes.
type release struct {
	src      *fakeSource
	vkey     string
	imagePub []byte
}

// newRelease builds a release of the given version. mutate, if non-nil,
// tweaks the manifest before signing.
func newRelease(t *testing.T, version string, image []byte, mutate func(*Manifest)) release {
	t.Helper()
	imagePub, imagePriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey(): %v", err)
	}
	digest := sha512.Sum512(image)
	m := Manifest{
		Component:   "app",
		Version:     *semver.New(version),
		ImageLength: int64(len(image)),
		ImageSHA512: digest[:],
		Signature:   ed25519.Sign(imagePriv, digest[:]),
	}
	if mutate != nil {
		mutate(&m)
	}
	j, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal(): %v", err)
	}

	skey, vkey, err := note.GenerateKey(rand.Reader, "test-firmware-release")
	if err != nil {
		t.Fatalf("note.GenerateKey(): %v", err)
	}
	signer, err := note.NewSigner(skey)
	if err != nil {
		t.Fatalf("note.NewSigner(): %v", err)
	}
	signed, err := note.Sign(&note.Note{Text: string(j) + "\n"}, signer)
	if err != nil {
		t.Fatalf("note.Sign(): %v", err)
	}
	return release{
		src:      &fakeSource{manifest: signed, image: image},
		vkey:     vkey,
		imagePub: imagePub,
	}
}

func newInstaller(t *testing.T, rel release, installed string) (*Installer, *flashtest.Device, *swapboot.FirmwareUpdater) {
	t.Helper()
	d := flashtest.New(devSize, writeSize, eraseSize)
	state := swapboot.NewPartition(0, eraseSize)
	dfu := swapboot.NewPartition(eraseSize, devSize)
	u := swapboot.NewVerified(dfu, state, ed25519verify.New())

	v, err := note.NewVerifier(rel.vkey)
	if err != nil {
		t.Fatalf("note.NewVerifier(): %v", err)
	}
	i, err := NewInstaller(Config{
		Updater:          u,
		Device:           d.Context(),
		ManifestVerifier: v,
		ImagePublicKey:   rel.imagePub,
		Installed:        *semver.New(installed),
	})
	if err != nil {
		t.Fatalf("NewInstaller(): %v", err)
	}
	return i, d, u
}

func testImage(n int) []byte {
	image := make([]byte, n)
	for i := range image {
		image[i] = byte(i * 13)
	}
	return image
}

func getState(t *testing.T, u *swapboot.FirmwareUpdater, d *flashtest.Device) swapboot.State {
	t.Helper()
	st, err := u.GetStateBlocking(d, make([]byte, writeSize))
	if err != nil {
		t.Fatalf("GetState(): %v", err)
	}
	return st
}

func TestInstall(t *testing.T) {
	// Image length deliberately not write-granularity aligned.
	image := testImage(3*eraseSize + 7)
	rel := newRelease(t, "1.1.0", image, nil)
	i, d, u := newInstaller(t, rel, "1.0.0")

	m, err := i.Install(context.Background(), rel.src)
	if err != nil {
		t.Fatalf("Install(): %v", err)
	}
	if got, want := m.Version, *semver.New("1.1.0"); got != want {
		t.Errorf("installed version = %v, want %v", got, want)
	}
	if got, want := getState(t, u, d), swapboot.Swap; got != want {
		t.Errorf("state after install = %v, want %v", got, want)
	}
	// The staged bytes are the image itself.
	if !bytes.Equal(d.Mem()[eraseSize:eraseSize+len(image)], image) {
		t.Error("DFU partition does not hold the staged image")
	}
}

func TestInstallRefusesRollback(t *testing.T) {
	image := testImage(eraseSize)
	rel := newRelease(t, "1.0.0", image, nil)
	i, d, u := newInstaller(t, rel, "1.0.0")

	_, err := i.Install(context.Background(), rel.src)
	if err == nil || !strings.Contains(err.Error(), "rollback") {
		t.Fatalf("Install() of same version = %v, want rollback refusal", err)
	}
	if got, want := getState(t, u, d), swapboot.Boot; got != want {
		t.Errorf("state after refused install = %v, want %v", got, want)
	}
}

func TestInstallRejectsUnsignedManifest(t *testing.T) {
	image := testImage(eraseSize)
	rel := newRelease(t, "1.1.0", image, nil)
	// Swap in a verifier for a different key, as if the manifest were
	// signed by an imposter.
	_, otherVkey, err := note.GenerateKey(rand.Reader, "test-firmware-release")
	if err != nil {
		t.Fatalf("note.GenerateKey(): %v", err)
	}
	rel.vkey = otherVkey
	i, _, _ := newInstaller(t, rel, "1.0.0")

	if _, err := i.Install(context.Background(), rel.src); err == nil {
		t.Error("Install() with unverifiable manifest succeeded")
	}
}

func TestInstallRejectsTamperedImage(t *testing.T) {
	image := testImage(2 * eraseSize)
	rel := newRelease(t, "1.1.0", image, nil)
	rel.src.image[17] ^= 1
	i, d, u := newInstaller(t, rel, "1.0.0")

	_, err := i.Install(context.Background(), rel.src)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("Install() of tampered image = %v, want digest mismatch", err)
	}
	if got, want := getState(t, u, d), swapboot.Boot; got != want {
		t.Errorf("state after tampered install = %v, want %v", got, want)
	}
}

func TestInstallRejectsWrongImageSignature(t *testing.T) {
	image := testImage(2 * eraseSize)
	rel := newRelease(t, "1.1.0", image, func(m *Manifest) {
		// Valid length and digest, but a signature by nobody in
		// particular.
		m.Signature = make([]byte, len(m.Signature))
	})
	i, d, u := newInstaller(t, rel, "1.0.0")

	_, err := i.Install(context.Background(), rel.src)
	var se *swapboot.SignatureError
	if !errors.As(err, &se) {
		t.Fatalf("Install() with bad image signature = %v, want SignatureError", err)
	}
	if got, want := getState(t, u, d), swapboot.Boot; got != want {
		t.Errorf("state after rejected install = %v, want %v", got, want)
	}
}

func TestInstallRejectsOversizedImage(t *testing.T) {
	image := testImage(eraseSize)
	rel := newRelease(t, "1.1.0", image, func(m *Manifest) {
		m.ImageLength = devSize * 2
	})
	i, _, _ := newInstaller(t, rel, "1.0.0")

	if _, err := i.Install(context.Background(), rel.src); err == nil {
		t.Error("Install() of oversized image succeeded")
	}
}

func TestInstallRejectsTruncatedImage(t *testing.T) {
	image := testImage(2 * eraseSize)
	rel := newRelease(t, "1.1.0", image, nil)
	rel.src.image = rel.src.image[:eraseSize+3]
	i, _, _ := newInstaller(t, rel, "1.0.0")

	_, err := i.Install(context.Background(), rel.src)
	if err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Fatalf("Install() of truncated image = %v, want truncation error", err)
	}
}

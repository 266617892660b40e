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
	"errors"
	"fmt"

	"github.com/embedded-fw/swapboot/flash"
)

// FlashError wraps a failed flash operation. It is one of the two error
// categories a FirmwareUpdater returns; the device's native classification
// is carried opaquely and reachable via Kind or errors.As.
type FlashError struct {
	Err error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("flash error: %v", e.Err)
}

func (e *FlashError) Unwrap() error { return e.Err }

// Kind returns the underlying device error classification, or
// flash.KindOther if the wrapped error carries none.
func (e *FlashError) Kind() flash.ErrorKind {
	var fe *flash.Error
	if errors.As(e.Err, &fe) {
		return fe.Kind
	}
	return flash.KindOther
}

// SignatureError reports rejection by the verified-activation path:
// malformed key or signature material, a digest mismatch, or the absence of
// any verification backend. A SignatureError means the staged image was not
// armed for swap.
type SignatureError struct {
	// Reason describes rejections raised by this package itself.
	Reason string
	// Err is the backend's rejection, if the backend was reached.
	Err error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signature error: %v", e.Err)
	}
	return fmt.Sprintf("signature error: %s", e.Reason)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// flashErr wraps a non-nil flash failure into the FlashError category.
func flashErr(err error) error {
	if err == nil {
		return nil
	}
	return &FlashError{Err: err}
}

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

// Package layout discovers the state and DFU partition address ranges from
// a platform memory-layout description, so that the core handshake never
// touches raw addresses directly. The description is YAML, typically
// generated alongside the bootloader's linker script:
//
//	state: {start: 0x3E000, end: 0x40000}
//	dfu:   {start: 0x40000, end: 0x80000}
package layout

import (
	"fmt"
	"os"

	"github.com/embedded-fw/swapboot"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Range is a half-open span [Start, End) of absolute flash addresses.
type Range struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// Len returns the span length in bytes.
func (r Range) Len() int { return int(r.End - r.Start) }

func (r Range) overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Layout is the platform memory-layout description consumed by swapboot.
type Layout struct {
	// State is the region holding the persisted magic-word boot flag.
	State Range `yaml:"state"`
	// DFU is the region holding a staged firmware image.
	DFU Range `yaml:"dfu"`
}

// Parse unmarshals and validates a layout description.
func Parse(b []byte) (*Layout, error) {
	l := &Layout{}
	if err := yaml.Unmarshal(b, l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout: %v", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	klog.V(2).Infof("layout: state %#x-%#x, DFU %#x-%#x", l.State.Start, l.State.End, l.DFU.Start, l.DFU.End)
	return l, nil
}

// Load reads and parses a layout description from path.
func Load(path string) (*Layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout %q: %v", path, err)
	}
	return Parse(b)
}

// Validate checks that both regions are well-formed and disjoint.
func (l *Layout) Validate() error {
	for _, r := range []struct {
		name string
		r    Range
	}{
		{"state", l.State},
		{"dfu", l.DFU},
	} {
		if r.r.Start >= r.r.End {
			return fmt.Errorf("%s region %#x-%#x is empty or inverted", r.name, r.r.Start, r.r.End)
		}
	}
	if l.State.overlaps(l.DFU) {
		return fmt.Errorf("state region %#x-%#x overlaps DFU region %#x-%#x",
			l.State.Start, l.State.End, l.DFU.Start, l.DFU.End)
	}
	return nil
}

// Partitions returns the partition pair described by the layout, in
// (state, dfu) order, ready to hand to swapboot.New.
func (l *Layout) Partitions() (state, dfu swapboot.Partition) {
	state = swapboot.NewPartition(l.State.Start, l.State.End)
	dfu = swapboot.NewPartition(l.DFU.Start, l.DFU.End)
	return state, dfu
}

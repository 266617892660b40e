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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	counterSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapboot_rollout_sessions_started",
		Help: "Number of install sessions started.",
	})
	counterSessionsArmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapboot_rollout_sessions_armed",
		Help: "Number of install sessions that verified and armed an image.",
	})
	counterSessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapboot_rollout_sessions_failed",
		Help: "Number of install sessions that failed before arming.",
	})
	counterRollbacksRefused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapboot_rollout_rollbacks_refused",
		Help: "Number of sessions refused because the offered version was not newer than the installed one.",
	})
	counterBytesStaged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapboot_rollout_bytes_staged",
		Help: "Total image bytes written to the DFU partition.",
	})
)

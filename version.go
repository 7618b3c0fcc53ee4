// Copyright 2026 The Bokaka Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package bokaka

// Firmware identity reported by the HELLO command.
//
// BuildDate and BuildHash are variables so release builds can stamp them:
//
//	go build -ldflags "-X github.com/BokakaProject/go-bokaka.BuildDate=... \
//	                   -X github.com/BokakaProject/go-bokaka.BuildHash=..."
const Version = "1.0.0"

var (
	// BuildDate is the build timestamp, "dev" when not stamped.
	BuildDate = "dev"
	// BuildHash is the VCS revision, "dev" when not stamped.
	BuildHash = "dev"
)

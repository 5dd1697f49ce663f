// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

import "fmt"

// String renders a Config for inclusion in a boot log line.
func (c Config) String() string {
	return fmt.Sprintf(
		"device=%s(%d sectors) swap=%s(%d sectors) frames=%d severity=%s format=%s",
		c.Device.ImagePath, c.Device.NumSectors,
		c.Device.SwapImagePath, c.VM.SwapSectors,
		c.VM.NumFrames, c.Logging.Severity, c.Logging.Format)
}

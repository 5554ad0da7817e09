// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "context"

// Runtime opens agents of one manifest type into code units.
type Runtime interface {
	// Type returns the manifest type this runtime handles.
	Type() Type

	// Open prepares the code unit described by manifest. dir is the agent
	// directory the manifest entry is relative to.
	Open(ctx context.Context, manifest *Manifest, dir string) (CodeUnit, error)
}

// Package ir provides the value model and data-model types for hookledger.
//
// This package contains type definitions and pure encoders only. All other
// internal packages import ir; ir imports nothing internal, which keeps it the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Row images are Objects of sealed Values, never map[string]any
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for digests and normalized payloads
//   - All JSON tags use snake_case
//   - Presence of OLD/NEW images is fixed by the operation (see NewRowImage)
package ir

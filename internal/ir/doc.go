// Package ir provides the persisted record types for agenda snapshots and the
// canonical serialization used to fingerprint them.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - salience, sequence and recency are int64
//   - All JSON tags use snake_case
//   - Recency stamps are logical clock values, never wall-clock timestamps
//   - Records are listed in a deterministic order so that two captures of the
//     same agenda state produce byte-identical canonical JSON
package ir

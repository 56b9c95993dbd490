// Package state persists what the installer knows about an installation:
// the metadata document it owns and the host settings document it shares.
//
// Documents are held as Value trees and combined with DeepMerge, where
// nested objects merge key by key and every other node is replaced.
package state

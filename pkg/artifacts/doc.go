// Package artifacts implements the installer's file primitives: copy,
// remove, hash and backup, each gated by the path guard and each honoring
// dry-run mode.
package artifacts

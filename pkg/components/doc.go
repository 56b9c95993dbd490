// Package components defines the installable units and the lifecycle they
// share.
//
// Every unit embeds Base, which runs the install template: validate
// prerequisites, copy files through the artifact store, compare the copied
// count with the expected count and then run the post-install step that
// registers the unit in the metadata. Variants swap individual steps.
//
// The MCP unit is the exception: it copies nothing and instead merges
// server definitions into the shared Claude config document with
// MergeServers, holding an advisory lock while it reads and writes.
package components

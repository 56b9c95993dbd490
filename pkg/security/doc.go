// Package security validates filesystem paths before the installer touches
// them and keeps an audit trail of the decisions.
//
// Validate applies, in order: length ceilings, traversal indicators on the
// raw input, system directory prefixes on both the literal and the resolved
// path, dangerous final segments, containment in a base directory, then
// null bytes and Windows device names. ValidateInstallTarget adds the one
// special case: a ~/.claude style directory inside the user's home.
package security

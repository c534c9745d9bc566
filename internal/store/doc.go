// Package store persists editor projects ("Octane" JSON documents) as
// <name>.json files in a single projects directory.
//
// Creation without replace is atomic: the document is written to a
// temporary file and hard-linked into place, so a concurrent save of the
// same name either wins or gets ErrExists, and readers never observe a
// partially written project.
package store

package store

import (
	"fmt"
	"strings"
)

// DefaultName is used when a project is saved without a name.
const DefaultName = "project"

const maxNameLen = 200

// ValidateName rejects names that would escape the projects directory or
// cannot be represented as a file name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidName, maxNameLen)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}
	return nil
}

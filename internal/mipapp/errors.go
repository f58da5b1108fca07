package mipapp

import "errors"

// ErrShortEscapeData is returned when an ESCAPE_NSS subcommand's payload
// is shorter than its fixed requirement.
var ErrShortEscapeData = errors.New("mipapp: escape subcommand payload too short")

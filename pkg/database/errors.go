package database

import "errors"

// ErrNotFound est renvoyé quand la ligne visée n'existe pas.
var ErrNotFound = errors.New("not found")

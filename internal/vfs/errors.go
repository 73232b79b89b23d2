package vfs

import (
	"errors"

	"github.com/hyperjump/kura/internal/resource"
	"github.com/hyperjump/kura/internal/vrkai"
)

var (
	// ErrPathNotFound is returned when a path does not resolve to an entry.
	ErrPathNotFound = errors.New("path not found")
	// ErrInvalidPath is returned for malformed path strings or operations
	// that target the root where an entry is required.
	ErrInvalidPath = errors.New("invalid path")
	// ErrPermissionDenied is returned when the requester's effective level is
	// below what the operation requires. Access defaults to deny.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrResourceTypeMismatch is returned when a folder was expected but an
	// item was found, or vice versa.
	ErrResourceTypeMismatch = errors.New("resource type mismatch")
	// ErrBackend wraps opaque persistence failures. On-disk state is
	// guaranteed unchanged when a write surfaces it.
	ErrBackend = errors.New("backend error")
	// ErrNoSourceFile is returned when saved source bytes are requested for
	// an entry that never stored any.
	ErrNoSourceFile = errors.New("no source file available")

	// ErrNodeNotFound mirrors the tree-level sentinel for callers matching
	// at this layer.
	ErrNodeNotFound = resource.ErrNodeNotFound
	// ErrSerialization covers VRKai/VRPack and aggregate decode failures.
	ErrSerialization = vrkai.ErrDecode
	// ErrAlreadyExists is returned when a create or insert collides with an
	// existing entry and overwrite was not requested.
	ErrAlreadyExists = vrkai.ErrAlreadyExists
)

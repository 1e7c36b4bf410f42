// Package fsutil implements the directory-tree operations the update
// pipelines are built from: permission-preserving recursive copy, rename
// with a cross-device fallback, and ownership normalization.
package fsutil

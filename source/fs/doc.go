// Package fs serves a directory tree as a content source.
//
// ListChangedNodes walks the tree and returns every matching file modified
// at or after a checkpoint. Watch follows the tree with fsnotify and pushes
// edits and deletions to a Handler as they happen.
package fs

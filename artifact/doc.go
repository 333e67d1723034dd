// Package artifact contains implementations of core.ArtifactStore, the
// archive for terminal response snapshots.
//
// Keys are slash separated paths ("<conversation>/<task>.json"). The
// in-memory store keeps objects grouped by the part before the last slash;
// the minio sub-package stores them as objects in a bucket.
package artifact

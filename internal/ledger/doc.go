// Package ledger talks to the remote record-keeping service that captured
// artifacts are delivered to.
//
// The Service interface splits delivery into the transport steps the worker
// drives: probing how many binary bytes the remote side already holds,
// streaming the remainder, registering the artifact metadata under the
// client artifact ID, and settling the user's storage quota. The default
// implementation speaks HTTP to the ledger API; the binary leg can instead
// be pointed at S3, where uploads are whole-object re-puts keyed by artifact
// ID rather than resumable streams.
//
// All remote failures map onto the services error markers so callers can
// classify them without inspecting transport details.
package ledger

// Package preflight provides readiness checks for the capture device,
// filesystem paths, and external binaries slate depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start, since the queue must keep accepting work while a device or the
// ledger is temporarily down. The CLI "slate status" command renders the
// same checks for operators.
package preflight

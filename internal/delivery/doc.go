// Package delivery drains the upload queue into the ledger.
//
// The Worker runs in passes: each pass snapshots the queued records and
// walks them oldest first, uploading the payload, registering metadata, and
// settling quota before confirming removal. A record failing mid-pass is
// returned to the queue with its attempt counter bumped and never aborts
// the rest of the pass. Between attempts the worker applies exponential
// backoff computed from the attempt count, so a flapping ledger is probed
// gently while fresh records still go out immediately.
//
// Passes are triggered, not polled: the daemon nudges the worker when a new
// record is enqueued, when connectivity returns, and once at startup.
package delivery

// Package services defines the shared error taxonomy consumed by the
// capture session machine, the upload queue, and the delivery worker.
//
// Structured error markers plus the Wrap helper translate failures into
// consistent classifications: device and validation errors reject a state
// transition locally, transport errors requeue the affected record, and
// quota rejections withhold delivery until the operator resolves them.
//
// Use these helpers when wiring new components so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services

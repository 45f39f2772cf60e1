// Package capture wraps acquisition of a live media stream from local
// hardware and chunked binary recording from it.
//
// The Device interface hides whether chunks come from a real capture
// pipeline process reading a V4L2 node or from a scripted test double. A
// udev hotplug monitor reports device arrival and removal so the daemon can
// track readiness without polling.
package capture

package netmgmt

import "errors"

// ErrQueueFull is returned by Submit when the bounded request queue (§4.6,
// §5) has no room; callers on the network path should drop the request to
// the application layer per §5's backpressure rule.
var ErrQueueFull = errors.New("netmgmt: request queue full")

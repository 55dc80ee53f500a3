package reactor

// Descriptor is an opaque, arena-indexed handle identifying a listening
// or accepted socket for the lifetime of that socket. It is stable and
// never reused while the underlying connection is live, but callers
// must not assume it is a small integer or treat it as a raw fd.
type Descriptor int32

// None is returned in place of a Descriptor when there is nothing to
// report, and is a safe, no-op argument to Disconnect.
const None Descriptor = 0

// Package spawn implements child-process creation and lifecycle management
// for an event-driven runtime. It exposes two engines sharing one creation
// primitive: an asynchronous engine that wires pipe-backed streams to a
// child's standard descriptors and reports termination through a reactor
// callback, and a synchronous engine that feeds and captures stdio through
// caller-supplied buffers while multiplexing readiness with a timeout.
//
// The package is Unix-only. Process creation is fork+exec via
// os.StartProcess; the creation protocol additionally carries a
// close-on-exec synchronization pipe so the parent never acts on a process
// identifier before the child has either replaced its image or
// irrecoverably failed to. Child-side exec and chdir failures surface as
// the sentinel exit status 127 through the ordinary termination path.
package spawn

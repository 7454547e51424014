// Package core holds the flash-loan routing contracts shared by every other
// package: the execution frame, the host capability, the request context
// store, the error taxonomy and the ambient configuration stack. It must not
// depend on protocol codecs or on the simulated chain.
package core

// Package cedar binds the libcedarc encoder, decoder and memory adapter.
// It builds on linux/arm with cgo; other platforms get a backend that
// refuses to open.
package cedar

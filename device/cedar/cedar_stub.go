//go:build !(linux && arm && cgo)

package cedar

import (
	"errors"

	"github.com/ugparu/gocedar/device"
)

var errCedarNotSupported = errors.New("cedar backend is only supported on linux/arm with cgo")

// New returns an error on platforms without libcedarc.
func New() (device.Backend, error) {
	return nil, errCedarNotSupported
}

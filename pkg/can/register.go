// Package can holds the Bus backend registry. Concrete backends
// (pkg/can/virtual, pkg/can/socketcan, pkg/can/brutella) register
// themselves from an init() function, mirroring the teacher's plugin
// registry (pkg/can/register.go, pkg/can/bus.go).
package can

import (
	"fmt"

	cantp "github.com/samsamfire/cantp"
)

type NewInterfaceFunc func(channel string) (cantp.Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// ImplementedInterfaces lists backend names this module ships.
var ImplementedInterfaces = []string{"virtual", "socketcan", "brutella"}

// RegisterInterface registers a new CAN bus backend under interfaceType.
// Call from an init() function of the backend package.
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// NewBus constructs a backend bus by registered name.
func NewBus(interfaceType string, channel string) (cantp.Bus, error) {
	newInterface, ok := interfaceRegistry[interfaceType]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", interfaceType)
	}
	return newInterface(channel)
}

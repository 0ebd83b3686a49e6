package instance

import (
	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/ferr"
	"github.com/scoutflo/flecsd-core/internal/vault/pouch"
)

// BindUSB records a USB passthrough binding for the instance at port,
// replacing any binding already there. It returns NotFound only when the
// instance is missing; dev is not checked against the host's USB devices.
func BindUSB(instances *pouch.InstancePouch, id core.InstanceID, port string, dev core.UsbDevice) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	if inst.Config == nil {
		inst.Config = core.NewInstanceConfig()
	}
	inst.Config.UsbDevices[port] = dev
	instances.Put(inst)
	return nil
}

// UnbindUSB removes the USB device bound at port.
func UnbindUSB(instances *pouch.InstancePouch, id core.InstanceID, port string) error {
	inst, ok := instances.Get(id)
	if !ok {
		return ferr.NotFound("instance", id.String())
	}
	if inst.Config == nil {
		return ferr.NotFound("usb port binding", port)
	}
	if _, ok := inst.Config.UsbDevices[port]; !ok {
		return ferr.NotFound("usb port binding", port)
	}
	delete(inst.Config.UsbDevices, port)
	instances.Put(inst)
	return nil
}

// GetUSB returns the device bound at port, distinguishing a missing
// instance from a port with no binding.
func GetUSB(instances *pouch.InstancePouch, id core.InstanceID, port string) (core.UsbDevice, error) {
	inst, ok := instances.Get(id)
	if !ok {
		return core.UsbDevice{}, ferr.NotFound("instance", id.String())
	}
	if inst.Config == nil {
		return core.UsbDevice{}, ferr.NotFound("usb port binding", port)
	}
	dev, ok := inst.Config.UsbDevices[port]
	if !ok {
		return core.UsbDevice{}, ferr.NotFound("usb port binding", port)
	}
	return dev, nil
}

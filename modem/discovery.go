package modem

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.bug.st/serial/enumerator"
)

//go:generate go tool mockgen -source=discovery.go -destination=mock_discovery.go -package=modem

// PortDescriptor describes one serial port of the host.
type PortDescriptor struct {
	Device      string `json:"device"`
	Name        string `json:"name"`
	Description string `json:"description"`
	HardwareID  string `json:"hwid"`
}

// PortLister enumerates the serial ports of the host.
type PortLister interface {
	ListPorts() ([]PortDescriptor, error)
}

// PortListerFunc adapts a function to PortLister.
type PortListerFunc func() ([]PortDescriptor, error)

func (f PortListerFunc) ListPorts() ([]PortDescriptor, error) {
	return f()
}

// SerialPortLister lists ports through go.bug.st/serial/enumerator.
type SerialPortLister struct{}

func (SerialPortLister) ListPorts() ([]PortDescriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	ports := make([]PortDescriptor, 0, len(details))
	for _, d := range details {
		desc := PortDescriptor{
			Device:      d.Name,
			Name:        filepath.Base(d.Name),
			Description: "n/a",
			HardwareID:  "n/a",
		}
		if d.Product != "" {
			desc.Description = d.Product
		}
		if d.IsUSB {
			desc.HardwareID = fmt.Sprintf("USB VID:PID=%s:%s", strings.ToUpper(d.VID), strings.ToUpper(d.PID))
			if d.SerialNumber != "" {
				desc.HardwareID += " SER=" + d.SerialNumber
			}
		}
		ports = append(ports, desc)
	}
	return ports, nil
}

// ListAvailablePorts returns every serial port of the host.
func ListAvailablePorts() ([]PortDescriptor, error) {
	return SerialPortLister{}.ListPorts()
}

// modemKeywords are matched against the lower-cased descriptor of each port.
var modemKeywords = []string{
	"modem", "gsm", "3g", "4g", "lte",
	"qualcomm", "huawei", "zte", "sierra", "quectel", "simcom",
	// USB vendor IDs of the same chipset makers
	"vid:pid=05c6", "vid:pid=12d1", "vid:pid=19d2", "vid:pid=1199", "vid:pid=2c7c", "vid:pid=1e0e",
	"usb serial",
}

var usbModemDevice = regexp.MustCompile(`(^|/)(ttyUSB\d+|ttyACM\d+|cu\.usbmodem[^/]*)$`)

func (p PortDescriptor) descriptor() string {
	return strings.ToLower(p.Device + " - " + p.Description + " - " + p.HardwareID)
}

// DiscoverPort picks the port most likely to be a GSM modem: the first one
// whose descriptor carries a modem keyword, otherwise the first one named
// like a USB modem device. Enumeration order is up to the host, so callers
// that need a stable choice should configure the port explicitly.
func DiscoverPort(ports []PortDescriptor) (string, bool) {
	for _, p := range ports {
		info := p.descriptor()
		for _, keyword := range modemKeywords {
			if strings.Contains(info, keyword) {
				return p.Device, true
			}
		}
	}

	for _, p := range ports {
		if usbModemDevice.MatchString(p.Device) {
			return p.Device, true
		}
	}

	return "", false
}

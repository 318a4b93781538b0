package posefeed

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions are the line settings of a pose feed port. Zero values take
// the usual 115200 8N1 defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

const defaultBaudRate = 115200

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills in defaults and canonicalises parity to N, E or O.
func (o PortOptions) Normalize() (PortOptions, error) {
	n := PortOptions{
		BaudRate: orDefault(o.BaudRate, defaultBaudRate),
		DataBits: orDefault(o.DataBits, 8),
		StopBits: orDefault(o.StopBits, 1),
	}
	if o.BaudRate < 0 {
		n.BaudRate = defaultBaudRate
	}
	if n.DataBits < 5 || n.DataBits > 8 {
		return n, fmt.Errorf("posefeed: data bits %d out of range 5-8", n.DataBits)
	}
	if _, ok := stopBits[n.StopBits]; !ok {
		return n, fmt.Errorf("posefeed: stop bits %d not supported, use 1 or 2", n.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	switch p {
	case "", "NONE":
		p = "N"
	case "EVEN":
		p = "E"
	case "ODD":
		p = "O"
	}
	if _, ok := parities[p]; !ok {
		return n, fmt.Errorf("posefeed: parity %q not supported, use N, E or O", o.Parity)
	}
	n.Parity = p
	return n, nil
}

// SerialMode returns the normalized options as a serial.Mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: stopBits[n.StopBits],
	}, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

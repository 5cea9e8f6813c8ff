package source

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.bug.st/serial"
)

// ErrPortClosed is returned once a serial port stops delivering data. The
// worker treats it as transient and reopens the port.
var ErrPortClosed = errors.New("serial port closed")

// SerialOpener opens a serial device.
type SerialOpener func(path string, mode *serial.Mode) (io.ReadCloser, error)

func openRealSerial(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

// PortOptions describes the serial connection parameters of an edge
// detector.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}

func serialOptions(u *url.URL) (PortOptions, error) {
	var (
		po  PortOptions
		err error
	)
	if po.BaudRate, err = queryInt(u, "baud", 0); err != nil {
		return po, err
	}
	if po.DataBits, err = queryInt(u, "data_bits", 0); err != nil {
		return po, err
	}
	if po.StopBits, err = queryInt(u, "stop_bits", 0); err != nil {
		return po, err
	}
	po.Parity = u.Query().Get("parity")
	return po.Normalize()
}

// OpenSerial reads newline-delimited JSON frames from a serial-attached
// detector.
func OpenSerial(path string, po PortOptions, opts Options) (FrameSource, error) {
	mode, err := po.SerialMode()
	if err != nil {
		return nil, Permanent(err)
	}
	open := opts.SerialOpener
	if open == nil {
		open = openRealSerial
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return newLineSource(port, ErrPortClosed, opts.clock()), nil
}

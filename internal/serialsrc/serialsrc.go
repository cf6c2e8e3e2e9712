// Package serialsrc opens the receiver's serial port as a byte source for
// the pipeline.
package serialsrc

import (
	"errors"
	"fmt"
	"io"

	"github.com/jacobsa/go-serial/serial"
)

// DefaultBaud matches the u-blox default UART rate.
const DefaultBaud = 115200

type Config struct {
	// Device is the serial device path, e.g. /dev/ttyAMA0.
	Device string
	// Baud is the line rate. Zero means DefaultBaud.
	Baud uint
}

// Open opens the configured port in 8N1 mode. Reads block until at least
// one byte is available, so the pipeline sees bytes as they arrive rather
// than in full-buffer batches.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Device == "" {
		return nil, errors.New("serialsrc: device path is required")
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.Device,
		BaudRate:        cfg.Baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("serialsrc: open %s: %w", cfg.Device, err)
	}
	return port, nil
}

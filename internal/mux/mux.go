// Package mux implements the multiplexer driver (spec.md component C2):
// four digital select lines encoding a 4-bit channel index onto the
// ADE7953's secondary ("B") current input.
package mux

import "periph.io/x/conn/v3/gpio"

// NumSecondary is the number of secondary CT inputs the multiplexer
// switches between (spec.md 4.2).
const NumSecondary = 16

// Selector drives the four GPIO select lines. It never blocks; settling
// time after a Select call is the acquisition engine's concern
// (spec.md 4.2).
type Selector struct {
	lines [4]gpio.PinOut
}

// New builds a Selector over four GPIO output pins, LSB first.
func New(bit0, bit1, bit2, bit3 gpio.PinOut) *Selector {
	return &Selector{lines: [4]gpio.PinOut{bit0, bit1, bit2, bit3}}
}

// Select writes idx (0..15) onto the four select lines unconditionally.
func (s *Selector) Select(idx uint8) error {
	if idx >= NumSecondary {
		idx = 0
	}
	for i, line := range s.lines {
		level := gpio.Low
		if idx&(1<<uint(i)) != 0 {
			level = gpio.High
		}
		if err := line.Out(level); err != nil {
			return err
		}
	}
	return nil
}

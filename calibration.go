package bmp180

import (
	"encoding/binary"
	"errors"
)

// ErrDivideByZero is returned when the calibration coefficients are
// degenerate enough to force a division by zero inside the compensation
// pipeline. It means the coefficients are garbage, not that the bus failed.
var ErrDivideByZero = errors.New("degenerate calibration forces division by zero")

// calibration holds the 11 factory coefficients from the sensor EEPROM.
//
// The compensation methods implement the fixed-point pipeline from the
// datasheet. Intermediate names (x1, b5, b7, ...) follow the datasheet so
// each step can be checked against it. The integer widths and shift
// semantics match the reference C driver; both matter for bit-exact results.
type calibration struct {
	ac1, ac2, ac3 int16
	ac4, ac5, ac6 uint16
	b1, b2        int16
	mb, mc, md    int16
}

// newCalibration parses a raw EEPROM block of calibrationSize bytes starting
// at calibrationReg. The words are big-endian, in datasheet order, with
// ac4..ac6 unsigned and everything else signed.
func newCalibration(buf []byte) calibration {
	return calibration{
		ac1: int16(binary.BigEndian.Uint16(buf[0:2])),
		ac2: int16(binary.BigEndian.Uint16(buf[2:4])),
		ac3: int16(binary.BigEndian.Uint16(buf[4:6])),
		ac4: binary.BigEndian.Uint16(buf[6:8]),
		ac5: binary.BigEndian.Uint16(buf[8:10]),
		ac6: binary.BigEndian.Uint16(buf[10:12]),
		b1:  int16(binary.BigEndian.Uint16(buf[12:14])),
		b2:  int16(binary.BigEndian.Uint16(buf[14:16])),
		mb:  int16(binary.BigEndian.Uint16(buf[16:18])),
		mc:  int16(binary.BigEndian.Uint16(buf[18:20])),
		md:  int16(binary.BigEndian.Uint16(buf[20:22])),
	}
}

// validCalibration reports whether a raw EEPROM block looks like factory
// data. No word of a healthy sensor reads 0x0000 or 0xFFFF; either value
// means the EEPROM or the transfer is broken.
func validCalibration(buf []byte) bool {
	for i := 0; i+1 < len(buf); i += 2 {
		if w := binary.BigEndian.Uint16(buf[i : i+2]); w == 0x0000 || w == 0xFFFF {
			return false
		}
	}
	return true
}

// compensateTemperature converts a raw temperature reading into 0.1 degC
// units. It also returns the b5 intermediate the pressure pipeline depends
// on, valid until the next temperature conversion.
func (c *calibration) compensateTemperature(ut int32) (temp, b5 int32, err error) {
	x1 := ((ut - int32(c.ac6)) * int32(c.ac5)) >> 15
	if x1+int32(c.md) == 0 {
		return 0, 0, ErrDivideByZero
	}
	x2 := (int32(c.mc) << 11) / (x1 + int32(c.md))
	b5 = x1 + x2
	return (b5 + 8) >> 4, b5, nil
}

// compensatePressure converts a raw pressure reading into Pa. b5 must come
// from a temperature conversion and os must be the mode that produced up.
func (c *calibration) compensatePressure(up, b5 int32, os Oversampling) (int32, error) {
	b6 := b5 - 4000
	x1 := (int32(c.b2) * ((b6 * b6) >> 12)) >> 11
	x2 := (int32(c.ac2) * b6) >> 11
	x3 := x1 + x2
	b3 := (((int32(c.ac1)*4 + x3) << os) + 2) / 4
	x1 = (int32(c.ac3) * b6) >> 13
	x2 = (int32(c.b1) * ((b6 * b6) >> 12)) >> 16
	x3 = ((x1 + x2) + 2) >> 2
	b4 := (uint32(c.ac4) * uint32(x3+32768)) >> 15
	if b4 == 0 {
		return 0, ErrDivideByZero
	}
	b7 := uint32(up-b3) * (50000 >> os)
	var p int32
	if b7 < 0x80000000 {
		p = int32((b7 * 2) / b4)
	} else {
		p = int32((b7 / b4) * 2)
	}
	x1 = (p >> 8) * (p >> 8)
	x1 = (x1 * 3038) >> 16
	x2 = (-7357 * p) >> 16
	return p + ((x1 + x2 + 3791) >> 4), nil
}

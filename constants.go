package bmp180

import "time"

// Oversampling selects the pressure measurement accuracy versus conversion
// time trade-off, called "hardware oversampling setting" (oss) in the
// datasheet. Temperature conversions are unaffected by it.
type Oversampling uint8

const (
	UltraLowPower Oversampling = iota
	Standard
	HighResolution
	UltraHighResolution
)

func (o Oversampling) String() string {
	switch o {
	case UltraLowPower:
		return "ultra-low-power"
	case Standard:
		return "standard"
	case HighResolution:
		return "high-resolution"
	case UltraHighResolution:
		return "ultra-high-resolution"
	default:
		return "invalid"
	}
}

// valid returns whether the mode fits the two command bits reserved for it.
func (o Oversampling) valid() bool {
	return o <= UltraHighResolution
}

// conversionTime returns the worst-case pressure conversion time for the
// mode. Reading the data registers earlier than this returns the previous
// conversion result.
func (o Oversampling) conversionTime() time.Duration {
	switch o {
	case UltraLowPower:
		return 4500 * time.Microsecond
	case Standard:
		return 7500 * time.Microsecond
	case HighResolution:
		return 13500 * time.Microsecond
	default:
		return 25500 * time.Microsecond
	}
}

// Addr is the BMP180 I2C address. The chip has no address pin, all devices
// answer at this address.
const Addr uint16 = 0x77

// chipID is the value the id register reads back on a functioning BMP180.
const chipID uint8 = 0x55

// Register map
const (
	calibrationReg uint8 = 0xAA // start of the 22-byte EEPROM coefficient block
	chipIDReg      uint8 = 0xD0
	softResetReg   uint8 = 0xE0
	controlReg     uint8 = 0xF4
	dataMSBReg     uint8 = 0xF6
	dataLSBReg     uint8 = 0xF7
	dataXLSBReg    uint8 = 0xF8
)

// Control register commands
const (
	cmdTemperature uint8 = 0x2E // start a temperature conversion
	cmdPressure    uint8 = 0x34 // start a pressure conversion, oss goes in bits 6-7
	cmdSoftReset   uint8 = 0xB6 // written to softResetReg, same sequence as power-on
)

const (
	calibrationSize = 22 // 11 big-endian words, AC1..MD
	rawTempSize     = 2
	rawPressureSize = 3
)

// Conversion and start-up times
const (
	tempConversionTime = 4500 * time.Microsecond
	startupTime        = 10 * time.Millisecond // datasheet start-up after reset
)

// Package bmp180 controls a Bosch BMP180 barometric pressure and temperature
// sensor over I²C.
//
// Datasheet: https://cdn-shop.adafruit.com/datasheets/BST-BMP180-DS000-09.pdf
package bmp180

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrNotCalibrated is returned by measurement calls issued while the driver
// holds no valid calibration, which happens after a failed
// RefreshCalibration. Measurements work again once a reload succeeds.
var ErrNotCalibrated = errors.New("calibration not loaded")

var (
	errConversionPending = errors.New("conversion in progress")
	errNoConversion      = errors.New("no matching conversion in progress")
	errSensingContinuous = errors.New("already sensing continuously")
)

// LogPrintf is a function used by the driver to print debug info.
type LogPrintf func(format string, v ...interface{})

// Opts holds various configuration options for the sensor
type Opts struct {
	// Oversampling is the pressure oversampling mode used by Sense and
	// SenseContinuous. Higher modes take longer per reading but lower the
	// RMS noise.
	Oversampling Oversampling
	// Logf, when set, receives debug traces such as the coefficient dump
	// read during calibration.
	Logf LogPrintf
}

func DefaultOptions() *Opts {
	return &Opts{
		Oversampling: Standard,
	}
}

// NewI2C opens a BMP180 on the given bus, verifies its chip id and loads the
// factory calibration from EEPROM. The device address is fixed at Addr.
func NewI2C(b i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if !opts.Oversampling.valid() {
		return nil, fmt.Errorf("bmp180: invalid oversampling mode: %d", opts.Oversampling)
	}

	d := &Dev{
		d:    &i2c.Dev{Bus: b, Addr: Addr},
		opts: *opts,
		logf: func(format string, v ...interface{}) {},
	}
	if opts.Logf != nil {
		d.logf = func(format string, v ...interface{}) {
			opts.Logf("bmp180: "+format, v...)
		}
	}

	id, err := d.readChipID()
	if err != nil {
		return nil, err
	}
	if id != chipID {
		return nil, fmt.Errorf("bmp180: unexpected chip id %#02x, want %#02x", id, chipID)
	}

	if err := d.loadCalibration(); err != nil {
		return nil, err
	}

	return d, nil
}

type Dev struct {
	d    conn.Conn
	opts Opts
	logf LogPrintf

	mu      sync.Mutex
	cal     calibration
	calOK   bool
	pending *conversion
	stop    chan struct{}
	wg      sync.WaitGroup
}

// conversion tracks a measurement started by TriggerTemperature or
// TriggerPressure that has not been collected yet.
type conversion struct {
	cmd     uint8
	os      Oversampling
	b5      int32
	readyAt time.Time
}

func (d *Dev) String() string {
	return fmt.Sprintf("BMP180{%s}", d.d)
}

// Temperature runs a single temperature measurement and returns the
// compensated result. It blocks for the conversion time, about 4.5ms.
func (d *Dev) Temperature() (physic.Temperature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return 0, d.wrap(errSensingContinuous)
	}
	if err := d.ready(); err != nil {
		return 0, err
	}
	t, _, err := d.temperature()
	return t, err
}

// Pressure runs a single pressure measurement at the given oversampling
// mode. The compensation pipeline needs the intermediate from a fresh
// temperature conversion, so one always runs first and the call blocks for
// both conversion times.
func (d *Dev) Pressure(os Oversampling) (physic.Pressure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return 0, d.wrap(errSensingContinuous)
	}
	if !os.valid() {
		return 0, fmt.Errorf("bmp180: invalid oversampling mode: %d", os)
	}
	if err := d.ready(); err != nil {
		return 0, err
	}
	_, b5, err := d.temperature()
	if err != nil {
		return 0, err
	}
	up, err := d.measureUP(os)
	if err != nil {
		return 0, err
	}
	p, err := d.cal.compensatePressure(up, b5, os)
	if err != nil {
		return 0, d.wrap(err)
	}
	return physic.Pressure(p) * physic.Pascal, nil
}

// TriggerTemperature starts a temperature conversion without waiting for the
// result. The conversion must be finished with CollectTemperature; until
// then every other measurement call fails, the chip has a single ADC.
func (d *Dev) TriggerTemperature() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errSensingContinuous)
	}
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.writeReg(controlReg, cmdTemperature); err != nil {
		return err
	}
	d.pending = &conversion{
		cmd:     cmdTemperature,
		readyAt: time.Now().Add(tempConversionTime),
	}
	return nil
}

// CollectTemperature reads back a conversion started by TriggerTemperature,
// sleeping out whatever is left of the conversion time.
func (d *Dev) CollectTemperature() (physic.Temperature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.pending
	if c == nil || c.cmd != cmdTemperature {
		return 0, d.wrap(errNoConversion)
	}
	if wait := time.Until(c.readyAt); wait > 0 {
		time.Sleep(wait)
	}
	d.pending = nil
	ut, err := d.readUT()
	if err != nil {
		return 0, err
	}
	t, _, err := d.cal.compensateTemperature(ut)
	if err != nil {
		return 0, d.wrap(err)
	}
	return deciCelsius(t), nil
}

// TriggerPressure starts a pressure conversion without waiting for the
// result. The compensation pipeline needs a fresh temperature first, so this
// still blocks for the 4.5ms temperature conversion; only the longer
// pressure conversion is handed over to CollectPressure.
func (d *Dev) TriggerPressure(os Oversampling) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errSensingContinuous)
	}
	if !os.valid() {
		return fmt.Errorf("bmp180: invalid oversampling mode: %d", os)
	}
	if err := d.ready(); err != nil {
		return err
	}
	_, b5, err := d.temperature()
	if err != nil {
		return err
	}
	if err := d.writeReg(controlReg, cmdPressure|uint8(os)<<6); err != nil {
		return err
	}
	d.pending = &conversion{
		cmd:     cmdPressure | uint8(os)<<6,
		os:      os,
		b5:      b5,
		readyAt: time.Now().Add(os.conversionTime()),
	}
	return nil
}

// CollectPressure reads back a conversion started by TriggerPressure,
// sleeping out whatever is left of the conversion time.
func (d *Dev) CollectPressure() (physic.Pressure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.pending
	if c == nil || c.cmd == cmdTemperature {
		return 0, d.wrap(errNoConversion)
	}
	if wait := time.Until(c.readyAt); wait > 0 {
		time.Sleep(wait)
	}
	d.pending = nil
	up, err := d.readUP(c.os)
	if err != nil {
		return 0, err
	}
	p, err := d.cal.compensatePressure(up, c.b5, c.os)
	if err != nil {
		return 0, d.wrap(err)
	}
	return physic.Pressure(p) * physic.Pascal, nil
}

// Sense runs one temperature and one pressure measurement at the
// oversampling mode from Opts and fills in e. Humidity is left untouched,
// the BMP180 does not measure it.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errSensingContinuous)
	}

	return d.sense(e)
}

// SenseContinuous returns measurements as physic.Env on a continuous basis,
// using the oversampling mode from Opts.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		return nil, d.wrap(errConversionPending)
	}
	if d.stop != nil {
		// Don't send the stop command to the device.
		close(d.stop)
		d.stop = nil
		d.wg.Wait()
	}

	sensing := make(chan physic.Env)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, d.stop)
	}()
	return sensing, nil
}

// Temperature resolution is 0.1 degC. Pressure comes out in whole Pa
// regardless of mode; oversampling lowers noise, not the step size.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = 100 * physic.MilliKelvin
	e.Pressure = physic.Pascal
}

// Halt stops continuous sensing as initiated by SenseContinuous() and
// abandons any conversion started by TriggerTemperature or TriggerPressure.
// A running conversion cannot be aborted on the chip, so Halt waits out the
// remaining conversion time, leaving the device ready for the next command.
//
// It is recommended to call this function before terminating the process to
// reduce idle power usage and a goroutine leak.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
		d.wg.Wait()
	}
	d.drainPending()

	return nil
}

// ChipID reads the chip identification register. A working BMP180 always
// answers 0x55; NewI2C has already verified that.
func (d *Dev) ChipID() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readChipID()
}

// SoftReset restarts the sensor through the reset register, running the same
// sequence as power-on, and waits out the start-up time. A reset does not
// touch the EEPROM, so the calibration held by the driver stays valid.
func (d *Dev) SoftReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainPending()
	if err := d.writeReg(softResetReg, cmdSoftReset); err != nil {
		return err
	}
	time.Sleep(startupTime)

	return nil
}

// RefreshCalibration rereads the coefficient block from the sensor EEPROM.
// The compensation pipeline is a pure function of the coefficients and the
// raw readings, so rereading unchanged EEPROM cannot change results.
func (d *Dev) RefreshCalibration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		return d.wrap(errConversionPending)
	}
	return d.loadCalibration()
}

// sense runs one full measurement cycle. A single temperature conversion
// serves both the temperature output and the pressure compensation. Must be
// called with d.mu held.
func (d *Dev) sense(e *physic.Env) error {
	if err := d.ready(); err != nil {
		return err
	}
	t, b5, err := d.temperature()
	if err != nil {
		return err
	}
	up, err := d.measureUP(d.opts.Oversampling)
	if err != nil {
		return err
	}
	p, err := d.cal.compensatePressure(up, b5, d.opts.Oversampling)
	if err != nil {
		return d.wrap(err)
	}

	e.Temperature = t
	e.Pressure = physic.Pressure(p) * physic.Pascal

	return nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	// Ensure the interval is at least one full two-conversion cycle.
	cycle := tempConversionTime + d.opts.Oversampling.conversionTime()
	if interval < cycle {
		interval = cycle
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var err error
	for {
		// Do one initial sensing right away.
		e := physic.Env{}
		d.mu.Lock()
		err = d.sense(&e)
		d.mu.Unlock()
		if err != nil {
			return
		}
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// ready checks the preconditions shared by every measurement entry point.
// Must be called with d.mu held.
func (d *Dev) ready() error {
	if d.pending != nil {
		return d.wrap(errConversionPending)
	}
	if !d.calOK {
		return d.wrap(ErrNotCalibrated)
	}
	return nil
}

// temperature runs a blocking temperature conversion and compensates it,
// returning the result along with the b5 intermediate. Must be called with
// d.mu held.
func (d *Dev) temperature() (physic.Temperature, int32, error) {
	if err := d.writeReg(controlReg, cmdTemperature); err != nil {
		return 0, 0, err
	}
	time.Sleep(tempConversionTime)
	ut, err := d.readUT()
	if err != nil {
		return 0, 0, err
	}
	t, b5, err := d.cal.compensateTemperature(ut)
	if err != nil {
		return 0, 0, d.wrap(err)
	}
	return deciCelsius(t), b5, nil
}

// measureUP runs a blocking pressure conversion at the given mode and
// returns the raw reading. Must be called with d.mu held.
func (d *Dev) measureUP(os Oversampling) (int32, error) {
	if err := d.writeReg(controlReg, cmdPressure|uint8(os)<<6); err != nil {
		return 0, err
	}
	time.Sleep(os.conversionTime())
	return d.readUP(os)
}

// readUT reads the raw 16 bit temperature value. Must be called with d.mu
// held, after the conversion time has elapsed.
func (d *Dev) readUT() (int32, error) {
	var buf [rawTempSize]byte
	if err := d.readReg(dataMSBReg, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint16(buf[:])), nil
}

// readUP reads the three raw pressure bytes and shifts them down per the
// oversampling mode. Must be called with d.mu held, after the conversion
// time has elapsed.
func (d *Dev) readUP(os Oversampling) (int32, error) {
	var buf [rawPressureSize]byte
	if err := d.readReg(dataMSBReg, buf[:]); err != nil {
		return 0, err
	}
	up := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	return int32(up >> (8 - os)), nil
}

func (d *Dev) readChipID() (uint8, error) {
	var buf [1]byte
	if err := d.readReg(chipIDReg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// loadCalibration reads the EEPROM coefficient block. On any failure the
// device is left uncalibrated and measurement calls return ErrNotCalibrated
// until a reload succeeds. Must be called with d.mu held (or from NewI2C
// before the device is shared).
func (d *Dev) loadCalibration() error {
	d.calOK = false
	var buf [calibrationSize]byte
	if err := d.readReg(calibrationReg, buf[:]); err != nil {
		return err
	}
	if !validCalibration(buf[:]) {
		return errors.New("bmp180: calibration EEPROM reads back invalid data")
	}
	d.cal = newCalibration(buf[:])
	d.calOK = true
	d.logf("calibration ac1=%d ac2=%d ac3=%d ac4=%d ac5=%d ac6=%d b1=%d b2=%d mb=%d mc=%d md=%d",
		d.cal.ac1, d.cal.ac2, d.cal.ac3, d.cal.ac4, d.cal.ac5, d.cal.ac6,
		d.cal.b1, d.cal.b2, d.cal.mb, d.cal.mc, d.cal.md)
	return nil
}

// drainPending sleeps out the rest of an abandoned conversion. Issuing a new
// command while the ADC is still busy desynchronizes the chip. Must be
// called with d.mu held.
func (d *Dev) drainPending() {
	if d.pending == nil {
		return
	}
	if wait := time.Until(d.pending.readyAt); wait > 0 {
		time.Sleep(wait)
	}
	d.pending = nil
}

func (d *Dev) readReg(reg uint8, b []byte) error {
	if err := d.d.Tx([]byte{reg}, b); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *Dev) writeReg(reg, value uint8) error {
	if err := d.d.Tx([]byte{reg, value}, nil); err != nil {
		return d.wrap(err)
	}
	return nil
}

// deciCelsius converts the pipeline's 0.1 degC units to physic.Temperature.
func deciCelsius(t int32) physic.Temperature {
	return physic.Temperature(t)*100*physic.MilliCelsius + physic.ZeroCelsius
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("bmp180: %w", err)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}

package main

import (
	"flag"
	"log"
	"math"
	"time"

	"github.com/mikesmitty/bmp180"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func main() {
	bus := flag.String("bus", "", "Name of the I²C bus")
	oss := flag.Int("oss", 1, "Pressure oversampling mode (0-3)")
	interval := flag.Duration("interval", 1*time.Second, "Delay between readings")
	qnh := flag.Float64("qnh", 1013.25, "Sea level pressure in hPa used for the altitude estimate")
	reset := flag.Bool("reset", false, "Soft reset the sensor before use")
	debug := flag.Bool("debug", false, "Print driver debug traces")
	flag.Parse()

	_, err := host.Init()
	if err != nil {
		log.Fatal(err)
	}

	ib, err := i2creg.Open(*bus)
	if err != nil {
		log.Fatal(err)
	}
	defer ib.Close()

	if *oss < 0 || *oss > 3 {
		log.Fatal("Invalid oversampling mode")
	}
	opts := &bmp180.Opts{
		Oversampling: bmp180.Oversampling(*oss),
	}
	if *debug {
		opts.Logf = log.Printf
	}

	dev, err := bmp180.NewI2C(ib, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	if *reset {
		if err := dev.SoftReset(); err != nil {
			log.Fatal(err)
		}
	}

	id, err := dev.ChipID()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%s chip id %#02x, oversampling %s", dev, id, opts.Oversampling)

	ticker := time.NewTicker(*interval)

	for {
		var e physic.Env
		err = dev.Sense(&e)
		if err != nil {
			log.Print(err)
		} else {
			hPa := float64(e.Pressure) / float64(100*physic.Pascal)
			log.Printf("Temperature: %.1f°C Pressure: %.2f hPa Altitude: %.1f m",
				e.Temperature.Celsius(), hPa, altitude(hPa, *qnh))
		}

		<-ticker.C
	}
}

// altitude estimates pressure altitude in meters from the international
// barometric formula, with qnh the sea level reference in hPa.
func altitude(hPa, qnh float64) float64 {
	return 44330 * (1 - math.Pow(hPa/qnh, 0.1903))
}

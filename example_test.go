package bmp180_test

import (
	"fmt"
	"log"

	"github.com/mikesmitty/bmp180"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Open the default I²C bus.
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	dev, err := bmp180.NewI2C(bus, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	env := physic.Env{}
	if err := dev.Sense(&env); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%8s %10s\n", env.Temperature, env.Pressure)
}

func Example_oversampling() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	// Trade conversion time for the lowest noise pressure readings.
	dev, err := bmp180.NewI2C(bus, &bmp180.Opts{Oversampling: bmp180.UltraHighResolution})
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	p, err := dev.Pressure(bmp180.UltraHighResolution)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(p)
}

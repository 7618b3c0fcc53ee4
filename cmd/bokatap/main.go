// Copyright 2026 The Bokaka Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// bokatap runs the badge firmware: the tap link engine on a GPIO pin,
// the persisted state image in a file, and the host command surface on a
// serial port or stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	bokaka "github.com/BokakaProject/go-bokaka"
	"github.com/BokakaProject/go-bokaka/detection"
	"github.com/BokakaProject/go-bokaka/hal/filenvm"
	"github.com/BokakaProject/go-bokaka/hal/gpio"
	"github.com/BokakaProject/go-bokaka/hal/hostid"
	"github.com/BokakaProject/go-bokaka/hostcmd"
	"go.bug.st/serial"
)

type config struct {
	consolePath string
	linePin     string
	led0Pin     string
	led1Pin     string
	buzzerPin   string
	nvmPath     string
	battery     bool
	debug       bool
}

// Package-level flag variables
var (
	flagConsole = flag.String("console", "-",
		"Serial port for the host command surface (\"-\" = stdio, \"auto\" = detect)")
	flagLine    = flag.String("line", "GPIO17", "Tap line pin name")
	flagLED0    = flag.String("led0", "", "Readiness LED pin name (empty = none)")
	flagLED1    = flag.String("led1", "", "Role LED pin name (empty = none)")
	flagBuzzer  = flag.String("buzzer", "", "Buzzer pin name (empty = none)")
	flagNVM     = flag.String("nvm", "bokatap.nvm", "Path of the persisted image file")
	flagBattery = flag.Bool("battery", false, "Use the battery-powered engine variant")
	flagDebug   = flag.Bool("debug", false, "Enable debug output")
)

func parseConfig() *config {
	flag.Parse()

	cfg := &config{
		consolePath: *flagConsole,
		linePin:     *flagLine,
		led0Pin:     *flagLED0,
		led1Pin:     *flagLED1,
		buzzerPin:   *flagBuzzer,
		nvmPath:     *flagNVM,
		battery:     *flagBattery,
		debug:       *flagDebug,
	}
	if cfg.debug {
		bokaka.SetDebugEnabled(true)
	}
	return cfg
}

func main() {
	cfg := parseConfig()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bokatap: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	if err := gpio.Init(); err != nil {
		return err
	}

	hw, err := buildHardware(cfg)
	if err != nil {
		return err
	}

	variant := bokaka.VariantUSB
	if cfg.battery {
		variant = bokaka.VariantBattery
	}

	app, err := bokaka.New(hw, bokaka.WithVariant(variant))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	if err := app.Begin(); err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	console, closeConsole, err := openConsole(cfg.consolePath)
	if err != nil {
		return err
	}
	defer closeConsole()

	app.AttachConsole(hostcmd.New(console, app.Store()))

	bokaka.Debugf("bokatap: device %s ready", hw.UID.Hex())

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Run(ctx)
	return nil
}

func buildHardware(cfg *config) (bokaka.Hardware, error) {
	var hw bokaka.Hardware

	line, err := gpio.NewLine(cfg.linePin)
	if err != nil {
		return hw, err
	}
	hw.Line = line
	hw.Clock = gpio.NewClock()
	hw.NVM = filenvm.New(cfg.nvmPath)

	uid, err := hostid.DeviceUID()
	if err != nil {
		return hw, fmt.Errorf("failed to derive device id: %w", err)
	}
	hw.UID = uid

	if cfg.led0Pin != "" {
		led, err := gpio.NewLED(cfg.led0Pin)
		if err != nil {
			return hw, err
		}
		hw.LED0 = led
	}
	if cfg.led1Pin != "" {
		led, err := gpio.NewLED(cfg.led1Pin)
		if err != nil {
			return hw, err
		}
		hw.LED1 = led
	}
	if cfg.buzzerPin != "" {
		buzzer, err := gpio.NewBuzzer(cfg.buzzerPin)
		if err != nil {
			return hw, err
		}
		hw.Tone = buzzer
	}

	return hw, nil
}

// stdio adapts the process streams to a single ReadWriter.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func openConsole(path string) (io.ReadWriter, func(), error) {
	switch path {
	case "-":
		return stdio{}, func() {}, nil
	case "auto":
		devices, err := detection.DetectAll(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("console auto-detect: %w", err)
		}
		path = devices[0].Path
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open console port %s: %w", path, err)
	}
	return port, func() { _ = port.Close() }, nil
}

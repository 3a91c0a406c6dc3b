package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/powerman/structlog"

	"github.com/itohio/powermeter/pkg/adc"
	"github.com/itohio/powermeter/pkg/config"
	"github.com/itohio/powermeter/pkg/meter"
)

var log = structlog.New(structlog.KeyUnit, "main")

func main() {
	var (
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		listFlag    = flag.Bool("list", false, "List available serial ports and exit")
		configFlag  = flag.String("config", "config.yaml", "Configuration file path (.yaml or .toml)")
		mockFlag    = flag.Bool("mock", false, "Use mocked sampler instead of serial port")
		saveFlag    = flag.Bool("save", false, "Write the effective configuration and exit")
		windowsFlag = flag.Int("windows", 0, "Stop after N windows (0 = run until interrupted)")
	)
	flag.Parse()

	structlog.DefaultLogger.
		SetPrefixKeys(
			structlog.KeyApp,
			structlog.KeyPID, structlog.KeyLevel, structlog.KeyUnit, structlog.KeyTime,
		).
		SetDefaultKeyvals(
			structlog.KeyApp, filepath.Base(os.Args[0]),
			structlog.KeySource, structlog.Auto,
		).
		SetSuffixKeys(structlog.KeySource).
		SetKeysFormat(map[string]string{
			structlog.KeyTime:   " %[2]s",
			structlog.KeySource: " %6[2]s",
			structlog.KeyUnit:   " %6[2]s",
		})

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatal("failed to load configuration", "file", *configFlag, "err", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	if *listFlag {
		ports, err := adc.Ports()
		if err != nil {
			log.Fatal("failed to list serial ports", "err", err)
		}
		printPorts(os.Stdout, ports, cfg.Serial.Port)
		return
	}

	if *saveFlag {
		log.ErrIfFail(func() error {
			return cfg.Save(*configFlag)
		})
		return
	}

	log.ErrIfFail(func() error {
		return run(cfg, *configFlag, *mockFlag, *windowsFlag)
	})
}

// run measures until interrupted or until the requested number of windows was
// reported. SIGHUP writes the current configuration back to filename.
func run(cfg *config.Config, filename string, useMock bool, windows int) error {
	powerMeter, err := meter.New(cfg)
	if err != nil {
		return err
	}

	var source adc.Source
	if useMock {
		source = adc.NewMock(&cfg.Mock, cfg.Measurement.SampleRate)
		log.Info("using mocked sampler")
	} else {
		source = adc.New(cfg.Serial.Port, cfg.Serial.BaudRate, adc.DefaultBufferSize)
		log.Info("using serial sampler", "port", cfg.Serial.Port)
	}

	powerMeter.OnSave(func(c *config.Config) {
		if err := c.Save(filename); err != nil {
			log.PrintErr("failed to save configuration", "file", filename, "err", err)
			return
		}
		log.Info("configuration saved", "file", filename)
	})

	finished := make(chan struct{})
	var once sync.Once
	powerMeter.OnWindow(func(s meter.Snapshot) {
		for _, line := range reportLines(powerMeter, s) {
			log.Info(line, "valid", s.Valid, "hz", s.Frequency)
		}
		if windows > 0 && s.Window >= uint64(windows) {
			once.Do(func() { close(finished) })
		}
	})

	if err := powerMeter.Start(source); err != nil {
		return err
	}
	defer log.ErrIfFail(powerMeter.Stop)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				powerMeter.RequestSave()
				continue
			}
			log.Info("interrupted", "signal", sig)
			return nil
		case <-finished:
			return nil
		}
	}
}

// Command tscsyncd keeps per-core time-stamp counters aligned. It runs the
// synchronization engine against the Linux msr driver: periodically as a
// daemon (run), as a one-shot round (sync), or detection-only (detect).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	tscsync "github.com/cwbudde/tsc-sync"
	"github.com/cwbudde/tsc-sync/internal/cpu"
	"github.com/cwbudde/tsc-sync/internal/msr"
)

// config is the daemon's YAML configuration. Flags override file values.
type config struct {
	// IntervalMS is the periodic round interval. Zero keeps the engine
	// default of 5000.
	IntervalMS uint32 `yaml:"interval_ms"`

	// DryRun replaces the hardware register backend with an in-memory
	// mock. Detection still runs against the real CPU.
	DryRun bool `yaml:"dry_run"`

	// CPUs overrides the detected participant count. Only honored in dry
	// runs; against real hardware the detected topology is authoritative.
	CPUs int `yaml:"cpus"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	if level == "" {
		return log, nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(parsed)
	return log, nil
}

// setup performs detection and builds the engine per cfg. The returned
// closer releases the register backend.
func setup(cfg config, log *logrus.Logger) (*tscsync.Forger, func(), error) {
	var regs msr.Registers
	var info cpu.Info
	if cfg.DryRun {
		info = cpu.Detect(cpu.Config{Log: log})
		if cfg.CPUs > 0 {
			info.Topology.Count = cfg.CPUs
		}
		regs = msr.NewMock(info.Topology.Count)
	} else {
		device, err := msr.OpenDevice()
		if err != nil {
			return nil, nil, fmt.Errorf("open msr backend: %w", err)
		}
		regs = device
		info = cpu.Detect(cpu.Config{Regs: regs, Log: log})
	}

	log.WithFields(logrus.Fields{
		"vendor": info.Vendor,
		"cpus":   info.Topology.Count,
	}).Info("detected topology")

	var dispatcher tscsync.Dispatcher
	if cfg.DryRun {
		dispatcher = tscsync.GoroutineDispatcher{}
	}

	forger, err := tscsync.New(tscsync.Config{
		Info:       info,
		Registers:  regs,
		Dispatcher: dispatcher,
		IntervalMS: cfg.IntervalMS,
		Log:        log,
	})
	if err != nil {
		regs.Close()
		return nil, nil, err
	}
	return forger, func() { regs.Close() }, nil
}

func main() {
	var configPath string
	var cfg config

	root := &cobra.Command{
		Use:           "tscsyncd",
		Short:         "Per-core cycle counter synchronization daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			// Flags set explicitly win over the file.
			if !cmd.Flags().Changed("interval-ms") && loaded.IntervalMS != 0 {
				cfg.IntervalMS = loaded.IntervalMS
			}
			if !cmd.Flags().Changed("dry-run") {
				cfg.DryRun = loaded.DryRun
			}
			if !cmd.Flags().Changed("cpus") && loaded.CPUs != 0 {
				cfg.CPUs = loaded.CPUs
			}
			if !cmd.Flags().Changed("log-level") && loaded.LogLevel != "" {
				cfg.LogLevel = loaded.LogLevel
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().Uint32Var(&cfg.IntervalMS, "interval-ms", 0, "periodic round interval in milliseconds")
	root.PersistentFlags().BoolVar(&cfg.DryRun, "dry-run", false, "use an in-memory register backend")
	root.PersistentFlags().IntVar(&cfg.CPUs, "cpus", 0, "participant count override (dry runs only)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "", "log level")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the periodic synchronization loop until interrupted",
			RunE: func(cmd *cobra.Command, args []string) error {
				log, err := newLogger(cfg.LogLevel)
				if err != nil {
					return err
				}
				forger, closer, err := setup(cfg, log)
				if err != nil {
					return err
				}
				defer closer()

				forger.Start()
				log.Info("synchronization loop started")

				signals := make(chan os.Signal, 1)
				signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
				sig := <-signals
				log.WithField("signal", sig.String()).Info("shutting down")

				forger.Stop()
				return nil
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Run one synchronization round and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				log, err := newLogger(cfg.LogLevel)
				if err != nil {
					return err
				}
				forger, closer, err := setup(cfg, log)
				if err != nil {
					return err
				}
				defer closer()

				forger.Request(false)
				state := forger.State()
				fmt.Printf("synchronized=%v target=%d\n", state.Synchronized, state.Target)
				return nil
			},
		},
		&cobra.Command{
			Use:   "detect",
			Short: "Print detected topology and capabilities",
			RunE: func(cmd *cobra.Command, args []string) error {
				log, err := newLogger(cfg.LogLevel)
				if err != nil {
					return err
				}
				info := cpu.Detect(cpu.Config{Log: log})
				fmt.Printf("vendor:         %s\n", info.Vendor)
				fmt.Printf("family/model:   %#x / %#x\n", info.Family, info.Model)
				fmt.Printf("cpus:           %d\n", info.Topology.Count)
				fmt.Printf("frequency lock: %v\n", info.Capabilities.FrequencyLock)
				fmt.Printf("fine adjust:    %v\n", info.Capabilities.FineAdjust)
				fmt.Printf("counter rate:   ~%d MHz\n", cpu.EstimateFrequencyMHz(200*time.Millisecond))
				return nil
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tscsyncd:", err)
		os.Exit(1)
	}
}

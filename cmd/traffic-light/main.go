package main

import (
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/reconquest/cog"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/pkg/log"
	"github.com/reconquest/sign-go"
	"github.com/reconquest/traffic-light/internal/audit"
)

var (
	version = "[manual build]"
	usage   = "traffic-light " + version + `

Usage:
  traffic-light [options]
  traffic-light service (install|uninstall|start|stop|status|run) [options]
  traffic-light -h | --help
  traffic-light --version

Options:
  -h --help           Show this screen.
  --version           Show version.
  -c --config <path>  Use specified config.
                       [default: ` + DEFAULT_CONFIG_PATH + `]
`
)

type commandLineOptions struct {
	ConfigPathValue string `docopt:"--config"`

	Service   bool `docopt:"service"`
	Install   bool `docopt:"install"`
	Uninstall bool `docopt:"uninstall"`
	Start     bool `docopt:"start"`
	Stop      bool `docopt:"stop"`
	Status    bool `docopt:"status"`
	Run       bool `docopt:"run"`
}

func main() {
	args, err := docopt.ParseArgs(usage, nil, version)
	if err != nil {
		log.Fatal(err)
	}

	var options commandLineOptions
	err = args.Bind(&options)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof(karma.Describe("version", version), "starting traffic-light")

	if options.Service {
		err = controlService(options)
	} else {
		err = run(options.ConfigPathValue, false, make(chan struct{}), log.NewChild())
	}

	if err != nil {
		log.Fatal(err)
	}
}

func controlService(options commandLineOptions) error {
	ctl := NewServiceController(options.ConfigPathValue)

	switch {
	case options.Install:
		return ctl.Install()
	case options.Uninstall:
		return ctl.Uninstall()
	case options.Start:
		return ctl.Start()
	case options.Stop:
		return ctl.Stop()
	case options.Status:
		return ctl.Status()
	default:
		shutdown, logger, err := ctl.Run()
		if err != nil {
			return err
		}

		return run(options.ConfigPathValue, true, shutdown, logger)
	}
}

func run(
	configPath string,
	requireConfig bool,
	serviceShutdown chan struct{},
	logger *cog.Logger,
) error {
	config, err := LoadConfig(configPath, requireConfig)
	if err != nil {
		return err
	}

	if config.Log.Debug {
		log.SetLevel(log.LevelDebug)
		logger.SetLevel(log.LevelDebug)
	}

	if config.Log.Trace {
		log.SetLevel(log.LevelTrace)
		logger.SetLevel(log.LevelTrace)
	}

	if config.Audit {
		audit.Start(3 * time.Second)
	}

	simulation := NewSimulation(config, logger)

	err = simulation.Start()
	if err != nil {
		simulation.Shutdown()
		return err
	}

	var server *http.Server
	if config.ListenAddress != "" {
		server = &http.Server{
			Addr:    config.ListenAddress,
			Handler: NewWebHandler(simulation),
		}

		go func() {
			logger.Infof(
				karma.Describe("address", config.ListenAddress),
				"starting http server",
			)

			err := server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				logger.Fatalf(
					err,
					"unable to listen and serve on %s",
					config.ListenAddress,
				)
			}
		}()
	}

	interrupts := make(chan os.Signal, 1)
	go sign.Notify(func(signal os.Signal) bool {
		interrupts <- signal
		return false
	}, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case <-serviceShutdown:
		logger.Warningf(nil, "system service stopped, shutting down")

	case signal := <-interrupts:
		logger.Warningf(nil, "observed %s signal, shutting down", signal)
	}

	if server != nil {
		err := server.Close()
		if err != nil {
			logger.Errorf(err, "unable to gracefully shutdown http server")
		}
	}

	simulation.Shutdown()

	logger.Warningf(nil, "shutdown: simulation gracefully terminated")

	return nil
}

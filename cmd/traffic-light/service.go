package main

import (
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/kovetskiy/lorg"
	"github.com/reconquest/cog"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/pkg/log"
)

type ServiceController struct {
	configPath string
	svc        service.Service
}

func NewServiceController(configPath string) *ServiceController {
	return &ServiceController{configPath: configPath}
}

func (ctl *ServiceController) lazyInit() error {
	if ctl.svc != nil {
		return nil
	}

	svc, err := service.New(Nop{}, &service.Config{
		Name:        "traffic-light",
		DisplayName: "traffic-light",
		Description: "Simulates traffic lights switching between red and green",
		Executable:  os.Args[0],
		Arguments:   []string{"service", "run", "--config", ctl.configPath},
	})
	if err != nil {
		return karma.Format(err, "unable to initialize system service")
	}

	ctl.svc = svc

	return nil
}

func (ctl *ServiceController) control(action string, past string) error {
	if err := ctl.lazyInit(); err != nil {
		return err
	}

	log.Infof(nil, "%s traffic-light system service", action)

	err := service.Control(ctl.svc, action)
	if err != nil {
		return karma.Format(
			err,
			"unable to %s traffic-light system service", action,
		)
	}

	log.Infof(nil, "traffic-light system service has been %s", past)

	return nil
}

func (ctl *ServiceController) Install() error {
	// refuse to install a service that would not start
	_, err := LoadConfig(ctl.configPath, true)
	if err != nil {
		return karma.Format(err, "unable to load & validate config")
	}

	return ctl.control("install", "installed")
}

func (ctl *ServiceController) Uninstall() error {
	return ctl.control("uninstall", "uninstalled")
}

func (ctl *ServiceController) Start() error {
	return ctl.control("start", "started")
}

func (ctl *ServiceController) Stop() error {
	return ctl.control("stop", "stopped")
}

func (ctl *ServiceController) Status() error {
	if err := ctl.lazyInit(); err != nil {
		return err
	}

	status, err := ctl.svc.Status()
	if err != nil {
		return err
	}

	switch status {
	case service.StatusRunning:
		fmt.Println("running")
	case service.StatusStopped:
		fmt.Println("stopped")
	default:
		fmt.Println("unknown")
	}

	return nil
}

// Run hands the process over to the service manager. It returns a channel
// that is closed when the manager stops the service and a logger that also
// forwards every record to the system log.
func (ctl *ServiceController) Run() (chan struct{}, *cog.Logger, error) {
	if err := ctl.lazyInit(); err != nil {
		return nil, nil, err
	}

	logger := log.NewChild()

	systemLogger, err := ctl.svc.SystemLogger(nil)
	if err != nil {
		log.Errorf(err, "unable to setup the system logger")
	} else {
		logger.SetSender(systemSender(systemLogger))
	}

	stopped := make(chan struct{})
	go func() {
		err := ctl.svc.Run()
		if err != nil {
			logger.Errorf(err, "unable to run as a system service")
		}

		close(stopped)
	}()

	return stopped, logger, nil
}

// systemSender is inherited by every child of the logger it is set on, so
// light loggers created from it forward as well.
func systemSender(systemLogger service.Logger) cog.Sender {
	return func(level lorg.Level, event karma.Hierarchical) error {
		text := level.String() + " " + event.String()

		var err error
		switch level {
		case lorg.LevelError, lorg.LevelFatal:
			err = systemLogger.Error(text)
		case lorg.LevelWarning:
			err = systemLogger.Warning(text)
		default:
			err = systemLogger.Info(text)
		}

		if err != nil {
			fmt.Fprintln(os.Stderr, "unable to send logs to system log:", err)
		}

		return nil
	}
}

type Nop struct{}

func (Nop) Start(_ service.Service) error {
	return nil
}

func (Nop) Stop(_ service.Service) error {
	return nil
}

//go:build windows

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"

	"sdcpp_server/core"
	"sdcpp_server/logging"
	"sdcpp_server/shutdown"
)

// stopGrace is added to the shutdown timeout before Stop gives up.
const stopGrace = 5 * time.Second

// program adapts the server lifecycle to the Windows service manager.
type program struct {
	cfg    *core.Config
	logger *logging.Logger

	manager *shutdown.Manager
	exit    chan error
}

// Start is called by the SCM. It must not block.
func (p *program) Start(s service.Service) error {
	p.manager = shutdown.NewManager(p.logger, shutdown.WithTimeout(p.cfg.ShutdownTimeout))
	p.exit = make(chan error, 1)

	logStartup(p.logger, p.cfg)

	a, err := newApp(context.Background(), p.cfg, p.logger, p.manager)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	go func() { p.exit <- a.run() }()
	return nil
}

// Stop is called by the SCM and waits for the shutdown sequence.
func (p *program) Stop(s service.Service) error {
	p.manager.Trigger()

	select {
	case err := <-p.exit:
		if err != nil {
			p.logger.Error("server stopped with errors", zap.Error(err))
		}
		return err
	case <-time.After(p.cfg.ShutdownTimeout + stopGrace):
		return fmt.Errorf("timeout waiting for service to stop")
	}
}

// ServiceConfig returns the service registration.
func ServiceConfig() *service.Config {
	cfg := &service.Config{
		Name:        "sd-cpp-server",
		DisplayName: "stable-diffusion.cpp HTTP Server",
		Description: "Serves OpenAI-compatible image generation backed by the stable-diffusion.cpp CLI",
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
	return cfg
}

// EnterServiceDirectory moves into the executable's directory when started
// by the SCM, which runs services from System32. service.Config's
// WorkingDirectory is not applied on Windows, so main has to do it before
// .env is loaded.
func EnterServiceDirectory() error {
	if service.Interactive() {
		return nil
	}
	_, err := chdirToExecutable(os.Executable)
	return err
}

// RunAsService runs under the SCM when not started interactively. It
// reports whether it did.
func RunAsService(cfg *core.Config, logger *logging.Logger) (bool, error) {
	if service.Interactive() {
		return false, nil
	}

	s, err := service.New(&program{cfg: cfg, logger: logger}, ServiceConfig())
	if err != nil {
		return true, fmt.Errorf("failed to create service: %w", err)
	}
	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run failed: %w", err)
	}
	return true, nil
}

// PrintServiceUsage prints the service management commands.
func PrintServiceUsage() {
	fmt.Println("sd-cpp-server service management")
	fmt.Println()
	fmt.Println("Usage: sd-cpp-server.exe <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  install    Install the server as a Windows service")
	fmt.Println("  uninstall  Remove the Windows service (alias: remove)")
	fmt.Println("  start      Start the Windows service")
	fmt.Println("  stop       Stop the Windows service")
	fmt.Println("  restart    Restart the Windows service")
	fmt.Println("  status     Show the current service status")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Run without arguments to start the server in the foreground.")
}

// HandleServiceCommand runs a service management command from args[1].
// It returns false when args name no such command.
func HandleServiceCommand(args []string) bool {
	if len(args) < 2 {
		return false
	}

	action := args[1]
	switch action {
	case "help", "-h", "--help", "-help":
		PrintServiceUsage()
		return true
	case "remove":
		action = "uninstall"
	case "install", "uninstall", "start", "stop", "restart", "status":
	default:
		return false
	}

	// management commands never run the program
	s, err := service.New(&program{}, ServiceConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create service: %v\n", err)
		os.Exit(core.ExitCodeError)
	}

	if action == "status" {
		printServiceStatus(s)
		return true
	}

	if err := service.Control(s, action); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	fmt.Printf("Service %s: ok\n", action)
	return true
}

func printServiceStatus(s service.Service) {
	status, err := s.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get service status: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	switch status {
	case service.StatusRunning:
		fmt.Println("Service is running")
	case service.StatusStopped:
		fmt.Println("Service is stopped")
	default:
		fmt.Println("Service status unknown")
	}
}

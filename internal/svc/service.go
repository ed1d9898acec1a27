// Package svc runs an aaarepl node as a system service.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// Service defaults.
const (
	DefaultName        = "aaarepl"
	DefaultDisplayName = "AAA Replication Node"
	DefaultDescription = "Replicates AAA users, domains, roles and grants between cluster nodes"

	// RunFlag marks a process started by the service manager.
	RunFlag = "--service-run"
)

// RunFunc runs the node until ctx is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	ConfigPath string
	Run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts. It must not block.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- fmt.Errorf("run function not configured")
			return
		}
		err := p.Run(p.ctx, p.ConfigPath)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("node exited")
		}
		p.done <- err
	}()

	return nil
}

// Stop cancels the running node and waits for it to return.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// Config holds configuration for service installation.
type Config struct {
	Name        string
	DisplayName string
	Description string
	ConfigPath  string
	UserName    string // Linux/macOS only
}

// DefaultConfigPath returns the platform's default config file location.
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "aaarepl", "node.yaml")
	}
	return "/etc/aaarepl/node.yaml"
}

// WithDefaults returns a copy of cfg with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.DisplayName == "" {
		c.DisplayName = DefaultDisplayName
	}
	if c.Description == "" {
		c.Description = DefaultDescription
	}
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultConfigPath()
	}
	return c
}

// NewServiceConfig builds the service.Config for goos.
func NewServiceConfig(cfg Config, goos string) *service.Config {
	cfg = cfg.WithDefaults()

	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   []string{RunFlag, "serve", "--config", cfg.ConfigPath},
	}

	switch goos {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		svcCfg.UserName = cfg.UserName
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive": true,
			"RunAtLoad": true,
		}
		svcCfg.UserName = cfg.UserName
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return svcCfg
}

// New creates a service instance for prg.
func New(prg *Program, cfg Config) (service.Service, error) {
	return service.New(prg, NewServiceConfig(cfg, runtime.GOOS))
}

func control(cfg Config) (service.Service, error) {
	cfg = cfg.WithDefaults()
	s, err := New(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

// Install installs the service, replacing an existing one when force is set.
func Install(cfg Config, force bool) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}

	if status, err := s.Status(); err == nil {
		switch status {
		case service.StatusRunning, service.StatusStopped:
			if !force {
				return fmt.Errorf("service %q already installed; use --force to reinstall", s.String())
			}
			if status == service.StatusRunning {
				if err := s.Stop(); err != nil {
					log.Warn().Err(err).Msg("failed to stop service")
				}
			}
			if err := s.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		}
	}

	if err := s.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the service.
func Uninstall(cfg Config) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}

	if status, _ := s.Status(); status == service.StatusRunning {
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Control sends action ("start", "stop" or "restart") to the service manager.
func Control(cfg Config, action string) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("%s service: %w", action, err)
	}
	return nil
}

// Status returns the service status.
func Status(cfg Config) (service.Status, error) {
	s, err := control(cfg)
	if err != nil {
		return service.StatusUnknown, err
	}
	return s.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run hands control to the service manager.
func Run(prg *Program, cfg Config) error {
	s, err := New(prg, cfg.WithDefaults())
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return s.Run()
}

// CheckPrivileges reports whether the current user may manage services.
func CheckPrivileges() error {
	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required (use sudo)")
	}
	return nil
}

// IsServiceMode reports whether args contain RunFlag.
func IsServiceMode(args []string) bool {
	return slices.Contains(args, RunFlag)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tunnelmesh/aaarepl/internal/svc"
)

var (
	serviceName  string
	serviceUser  string
	forceInstall bool
	logsFollow   bool
	logsLines    int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the aaarepl system service",
		Long: `Install, control, and manage an aaarepl node as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  sudo aaarepl service install --config /etc/aaarepl/node.yaml
  sudo aaarepl service start
  sudo aaarepl service status
  sudo aaarepl service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install aaarepl as a system service",
		Long: `Install aaarepl as a system service that starts automatically at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the aaarepl system service",
		RunE:  runServiceUninstall,
	}
	serviceCmd.AddCommand(uninstallCmd)

	for _, action := range []string{"start", "stop", "restart"} {
		serviceCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the aaarepl service", capitalize(action)),
			RunE:  runServiceControl(action),
		})
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show aaarepl service status",
		RunE:  runServiceStatus,
	}
	serviceCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View aaarepl service logs",
		RunE:  runServiceLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	serviceCmd.PersistentFlags().StringVarP(&serviceName, "name", "n", "", "Service name (default: aaarepl)")

	return serviceCmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func getServiceConfig() svc.Config {
	return svc.Config{
		Name:       serviceName,
		ConfigPath: cfgFile,
		UserName:   serviceUser,
	}.WithDefaults()
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if _, err := loadConfig(cfg.ConfigPath); err != nil {
		return fmt.Errorf("check config %s: %w", cfg.ConfigPath, err)
	}

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Service %q installed\n", cfg.Name)
	_, _ = fmt.Fprintf(out, "  Config: %s\n", cfg.ConfigPath)
	_, _ = fmt.Fprintf(out, "Start it with: aaarepl service start\n")
	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if err := svc.Uninstall(cfg); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q uninstalled\n", cfg.Name)
	return nil
}

func runServiceControl(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		setupLogging()

		if err := svc.CheckPrivileges(); err != nil {
			return err
		}

		cfg := getServiceConfig()
		if err := svc.Control(cfg, action); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q: %s ok\n", cfg.Name, action)
		return nil
	}
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()
	status, err := svc.Status(cfg)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q: %s\n", cfg.Name, svc.StatusString(status))
	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()
	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}

package svc

import (
	"context"
	"errors"
	"testing"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceConfig_Defaults(t *testing.T) {
	cfg := NewServiceConfig(Config{ConfigPath: "/etc/aaarepl/node.yaml"}, "linux")

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultDisplayName, cfg.DisplayName)
	assert.Equal(t, []string{RunFlag, "serve", "--config", "/etc/aaarepl/node.yaml"}, cfg.Arguments)
	assert.Contains(t, cfg.Dependencies, "After=network-online.target")
	assert.Equal(t, "on-failure", cfg.Option["Restart"])
}

func TestNewServiceConfig_Platforms(t *testing.T) {
	darwin := NewServiceConfig(Config{UserName: "aaa"}, "darwin")
	assert.Equal(t, true, darwin.Option["KeepAlive"])
	assert.Equal(t, "aaa", darwin.UserName)

	windows := NewServiceConfig(Config{UserName: "aaa"}, "windows")
	assert.Equal(t, "restart", windows.Option["OnFailure"])
	assert.Empty(t, windows.UserName, "user name is not applied on windows")
}

func TestIsServiceMode(t *testing.T) {
	assert.True(t, IsServiceMode([]string{"aaarepl", RunFlag, "serve"}))
	assert.False(t, IsServiceMode([]string{"aaarepl", "serve"}))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "running", StatusString(service.StatusRunning))
	assert.Equal(t, "stopped", StatusString(service.StatusStopped))
	assert.Equal(t, "unknown", StatusString(service.StatusUnknown))
}

func TestProgram_StartStop(t *testing.T) {
	started := make(chan string, 1)
	prg := &Program{
		ConfigPath: "node.yaml",
		Run: func(ctx context.Context, configPath string) error {
			started <- configPath
			<-ctx.Done()
			return ctx.Err()
		},
	}

	require.NoError(t, prg.Start(nil))
	assert.Equal(t, "node.yaml", <-started)
	assert.NoError(t, prg.Stop(nil), "context cancellation is a clean stop")
}

func TestProgram_RunError(t *testing.T) {
	boom := errors.New("bind failed")
	prg := &Program{Run: func(ctx context.Context, _ string) error { return boom }}

	require.NoError(t, prg.Start(nil))
	assert.ErrorIs(t, prg.Stop(nil), boom)
}

func TestProgram_NoRunFunc(t *testing.T) {
	prg := &Program{}
	require.NoError(t, prg.Start(nil))
	assert.Error(t, prg.Stop(nil))
}

func TestLogCommand(t *testing.T) {
	name, args, err := LogCommand("linux", LogOptions{Follow: true})
	require.NoError(t, err)
	assert.Equal(t, "journalctl", name)
	assert.Equal(t, []string{"-u", DefaultName, "-n", "50", "--no-pager", "-o", "cat", "-f"}, args)

	name, args, err = LogCommand("darwin", LogOptions{ServiceName: "aaa", Lines: 10})
	require.NoError(t, err)
	assert.Equal(t, "tail", name)
	assert.Equal(t, []string{"-n", "10", "/var/log/aaa.out.log", "/var/log/aaa.err.log"}, args)

	name, _, err = LogCommand("windows", LogOptions{})
	require.NoError(t, err)
	assert.Equal(t, "powershell", name)

	_, _, err = LogCommand("plan9", LogOptions{})
	assert.Error(t, err)
}

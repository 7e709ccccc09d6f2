package cmd

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Install registers the VNETIP server as a system service.
type Install struct{}

// Uninstall removes the service again.
type Uninstall struct{}

func (c *Install) Run(logger *slog.Logger) error {
	if err := refuseGoRun("install"); err != nil {
		return err
	}
	return install(logger)
}

func (c *Uninstall) Run(logger *slog.Logger) error {
	if err := refuseGoRun("uninstall"); err != nil {
		return err
	}
	return uninstall(logger)
}

func refuseGoRun(action string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if strings.Contains(exe, "go-build") {
		return errors.New("cannot " + action + " from 'go run'")
	}
	return nil
}

func currentExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(exe)
}

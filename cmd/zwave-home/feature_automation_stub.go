//go:build no_automation

package main

import (
	"log/slog"

	"zwave-go-home/internal/driver"
	"zwave-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *driver.Driver, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}

//go:build !windows

package main

import (
	"sdcpp_server/core"
	"sdcpp_server/logging"
)

// RunAsService is a no-op outside Windows. It reports false so main runs
// in the foreground.
func RunAsService(*core.Config, *logging.Logger) (bool, error) {
	return false, nil
}

// HandleServiceCommand is a no-op outside Windows.
func HandleServiceCommand(args []string) bool {
	return false
}

// EnterServiceDirectory is a no-op outside Windows.
func EnterServiceDirectory() error {
	return nil
}

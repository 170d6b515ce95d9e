// internal/discovery/ble/adapter_linux.go

//go:build linux

package ble

import "tinygo.org/x/bluetooth"

// adapterFor selects a BlueZ adapter by its hciN identifier
func adapterFor(id string) *bluetooth.Adapter {
	return bluetooth.NewAdapter(id)
}

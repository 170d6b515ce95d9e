// internal/discovery/ble/adapter_other.go

//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// adapterFor returns the only adapter the platform exposes
func adapterFor(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}

// internal/model/errors.go
package model

import "errors"

var (
	// ErrAdapter means the local radio adapter is unusable
	ErrAdapter = errors.New("bluetooth adapter unavailable")

	// ErrDeviceNotFound means the target address could not be resolved in time
	ErrDeviceNotFound = errors.New("device not found")

	// ErrCharacteristicNotFound means the device lacks a write or notify characteristic
	ErrCharacteristicNotFound = errors.New("required characteristic not found")

	// ErrNotConnected is returned by link operations that need a live connection
	ErrNotConnected = errors.New("link not connected")

	// ErrLinkLost means the peer or the radio dropped the link without being asked to
	ErrLinkLost = errors.New("link lost")
)

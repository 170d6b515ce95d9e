// internal/config/version.go
package config

// Version is the release version, overridable with -ldflags "-X freakble/internal/config.Version=..."
var Version = "0.5.0"

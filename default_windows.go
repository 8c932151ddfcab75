//go:build windows

package notify

var defaultBackend newBackendFunc = newWindowsBackend

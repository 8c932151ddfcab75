//go:build darwin

package notify

var defaultBackend newBackendFunc = newFSEventsBackend

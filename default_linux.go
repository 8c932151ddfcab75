//go:build linux

package notify

var defaultBackend newBackendFunc = newInotifyBackend

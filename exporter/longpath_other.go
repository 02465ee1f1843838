//go:build !windows

package exporter

func longPath(abs string) string {
	return abs
}

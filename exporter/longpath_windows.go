//go:build windows

package exporter

import "strings"

const extendedPathPrefix = `\\?\`

// longPath lifts the MAX_PATH limit for deep category/section/title nesting.
func longPath(abs string) string {
	if strings.HasPrefix(abs, `\\`) {
		return abs
	}
	return extendedPathPrefix + abs
}

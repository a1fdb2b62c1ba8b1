//go:build !linux

package idlewatch

import (
	"io/fs"
	"time"
)

func statAccessTime(fi fs.FileInfo) time.Time {
	return fi.ModTime()
}

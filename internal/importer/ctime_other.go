//go:build !linux && !darwin

package importer

import "io/fs"

func changeTime(info fs.FileInfo) int64 {
	return info.ModTime().Unix()
}

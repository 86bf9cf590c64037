package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint is the on-disk size of the database and search index.
type Footprint struct {
	Total  int64            `json:"total_bytes"`
	ByPath map[string]int64 `json:"by_path"`
}

// DiskFootprint sums the sizes of paths. A path may be a file or a directory,
// and the SQLite -wal and -shm companions of a file are included. Missing
// paths count as zero.
func DiskFootprint(paths ...string) (Footprint, error) {
	fp := Footprint{ByPath: make(map[string]int64)}
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return Footprint{}, err
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			extra, err := pathSize(p + suffix)
			if err != nil {
				return Footprint{}, err
			}
			n += extra
		}
		fp.ByPath[p] = n
		fp.Total += n
	}
	return fp, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

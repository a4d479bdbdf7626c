package commitlog

import (
	"io/ioutil"
	"strings"
)

type Statistics struct {
	LedgerCount uint64
	StoredBytes uint64
}

func (s *Store) GetStatistics() Statistics {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var size int64
	var count uint64
	files, err := ioutil.ReadDir(s.datadir)
	if err == nil {
		for _, file := range files {
			if strings.HasSuffix(file.Name(), ".log") {
				size += file.Size()
				count++
			}
		}
	}
	return Statistics{
		LedgerCount: count,
		StoredBytes: uint64(size),
	}
}

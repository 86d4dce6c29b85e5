package storage

import (
	"errors"
	"io"
	"time"
)

var ErrInvalidName = errors.New("invalid file name")

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Storage keeps flat, named files. Names never contain path separators.
type Storage interface {
	// SaveFile stores r under info.Filename, or under a generated name when
	// that is empty, and returns the name used.
	SaveFile(r io.Reader, info FileInfo) (string, error)
	OpenFile(name string) (io.ReadSeekCloser, error)
	DeleteFile(name string) error
	ListFiles() ([]FileInfo, error)
}

package fs

import (
	"context"
	"os"
	"path/filepath"
)

// stdDirectIO is a DirectIO for tests using the standard library without O_DIRECT,
// which tmpfs backed temp folders don't support.
type stdDirectIO struct{}

func (dio stdDirectIO) Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "." {
		_ = os.MkdirAll(dir, 0o750)
	}
	return os.OpenFile(filename, flag, permission)
}

func (dio stdDirectIO) WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	return file.WriteAt(block, offset)
}

func (dio stdDirectIO) ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	return file.ReadAt(block, offset)
}

func (dio stdDirectIO) Close(file *os.File) error { return file.Close() }

func init() {
	if DirectIOSim == nil {
		DirectIOSim = stdDirectIO{}
	}
}

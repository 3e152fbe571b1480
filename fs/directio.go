package fs

import (
	"context"
	"os"

	"github.com/ncw/directio"

	"github.com/sharedcode/docstore"
)

// DirectIO exposes unbuffered file operations using O_DIRECT semantics where
// supported. Buffers must come from directio.AlignedBlock and offsets be block aligned.
type DirectIO interface {
	// Open opens a file with the given name and flags using direct I/O when possible.
	Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error)
	// WriteAt writes a block at the given offset.
	WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error)
	// ReadAt reads a block at the given offset.
	ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error)
	// Close closes the provided file handle.
	Close(file *os.File) error
}

// blockSize is the alignment size required by the direct I/O implementation.
const blockSize = directio.BlockSize

// DirectIOSim replaces the direct I/O implementation when set, e.g. in tests running
// on file systems without O_DIRECT support (tmpfs).
var DirectIOSim DirectIO

type directIO struct{}

// NewDirectIO returns a DirectIO implementation backed by github.com/ncw/directio.
func NewDirectIO() DirectIO {
	if DirectIOSim != nil {
		return DirectIOSim
	}
	return &directIO{}
}

// Open wraps directio.OpenFile, transient errors are retried.
func (dio directIO) Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error) {
	var f *os.File
	err := retryIO(ctx, func(context.Context) error {
		var e error
		f, e = directio.OpenFile(filename, flag, permission)
		return e
	})
	return f, err
}

// WriteAt writes a block at an aligned offset, transient errors are retried.
func (dio directIO) WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	var i int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		i, e = file.WriteAt(block, offset)
		return e
	})
	return i, err
}

// ReadAt reads a block at an aligned offset, transient errors are retried.
func (dio directIO) ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	var i int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		i, e = file.ReadAt(block, offset)
		return e
	})
	return i, err
}

func (dio directIO) Close(file *os.File) error {
	return file.Close()
}

func retryIO(ctx context.Context, task func(context.Context) error) error {
	return docstore.Retry(ctx, func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			return docstore.RetryableError(err)
		}
		return nil
	}, nil)
}

package fs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ncw/directio"
)

// headerSize prefixes the payload with its length, the file is padded to whole blocks.
const headerSize = 8

// blockFile reads and writes whole payloads through DirectIO.
type blockFile struct {
	dio DirectIO
}

// write stores data into name atomically: a block aligned temp file is written and renamed.
func (b blockFile) write(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return err
	}
	size := headerSize + len(data)
	if r := size % blockSize; r != 0 {
		size += blockSize - r
	}
	block := directio.AlignedBlock(size)
	binary.LittleEndian.PutUint64(block, uint64(len(data)))
	copy(block[headerSize:], data)

	tmp := name + ".tmp"
	f, err := b.dio.Open(ctx, tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := b.dio.WriteAt(ctx, f, block, 0); err != nil {
		b.dio.Close(f)
		os.Remove(tmp)
		return err
	}
	if err := b.dio.Close(f); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, name)
}

// read returns the payload stored in name, nil when the file does not exist.
func (b blockFile) read(ctx context.Context, name string) ([]byte, error) {
	fi, err := os.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if fi.Size() < headerSize || fi.Size()%blockSize != 0 {
		return nil, fmt.Errorf("file %s has an invalid size %d", name, fi.Size())
	}
	f, err := b.dio.Open(ctx, name, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer b.dio.Close(f)
	block := directio.AlignedBlock(int(fi.Size()))
	if _, err := b.dio.ReadAt(ctx, f, block, 0); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint64(block)
	if n > uint64(len(block)-headerSize) {
		return nil, fmt.Errorf("file %s is corrupt, payload length %d exceeds file size", name, n)
	}
	data := make([]byte, n)
	copy(data, block[headerSize:])
	return data, nil
}

// remove deletes name, a missing file is not an error.
func (b blockFile) remove(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

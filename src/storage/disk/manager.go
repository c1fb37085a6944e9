package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/RelDB/src"
	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

const PageSize = common.PageSize

var (
	ErrNoSuchPage    = errors.New("no such page")
	ErrInvalidPageID = errors.New("invalid page id")
)

// Manager is the page-granular I/O surface the buffer pool consumes.
// Page ID allocation is not part of it: a buffer pool instance hands out
// IDs from its own sharded counter.
type Manager interface {
	ReadPage(pageID common.PageID, buf []byte) error
	WritePage(pageID common.PageID, buf []byte) error
	DeallocatePage(pageID common.PageID)
}

// FileManager stores page N at byte offset N*PageSize of a single page file
// on an afero filesystem. The file grows on first write of a page; a read
// past the current end of an allocated page yields a zero page.
type FileManager struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	file afero.File

	deallocated map[common.PageID]struct{}

	log src.Logger
}

var _ Manager = (*FileManager)(nil)

func NewFileManager(fs afero.Fs, path string, log src.Logger) (*FileManager, error) {
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file %q: %w", path, err)
	}

	return &FileManager{
		fs:          fs,
		path:        path,
		file:        file,
		deallocated: map[common.PageID]struct{}{},
		log:         log,
	}, nil
}

func (m *FileManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.file.Close()
}

func (m *FileManager) ReadPage(pageID common.PageID, buf []byte) error {
	if !pageID.IsValid() {
		return ErrInvalidPageID
	}
	assert.Assert(len(buf) == PageSize, "read buffer must be one page, got %d bytes", len(buf))

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * PageSize

	info, err := m.file.Stat()
	if err != nil {
		return err
	}
	if offset >= info.Size() {
		// allocated but never written
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}

	n, err := m.file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read page %d: %w", pageID, err)
	}
	for i := n; i < PageSize; i++ {
		buf[i] = 0
	}
	return nil
}

func (m *FileManager) WritePage(pageID common.PageID, buf []byte) error {
	if !pageID.IsValid() {
		return ErrInvalidPageID
	}
	assert.Assert(len(buf) == PageSize, "write buffer must be one page, got %d bytes", len(buf))

	m.mu.Lock()
	defer m.mu.Unlock()

	offset := int64(pageID) * PageSize
	if _, err := m.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("failed to write page %d: %w", pageID, err)
	}
	delete(m.deallocated, pageID)
	return nil
}

// DeallocatePage records the page as free. The file is not shrunk; a later
// WritePage of the same ID clears the record.
func (m *FileManager) DeallocatePage(pageID common.PageID) {
	if !pageID.IsValid() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deallocated[pageID] = struct{}{}
	m.log.Debugf("deallocated page %d", pageID)
}

package mock

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	iofs "io/fs"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docforge-build/docforge/fs"
)

type MockFile struct {
	*bytes.Buffer
	ReadOnly bool
	ModTime  time.Time
}

type mockDirEntry struct {
	name  string
	isDir bool
	typ   iofs.FileMode
	info  iofs.FileInfo
}

func (m *mockDirEntry) Name() string                 { return m.name }
func (m *mockDirEntry) IsDir() bool                  { return m.isDir }
func (m *mockDirEntry) Type() iofs.FileMode          { return m.typ }
func (m *mockDirEntry) Info() (iofs.FileInfo, error) { return m.info, nil }

type mockFileInfo struct {
	name    string
	mode    os.FileMode
	size    int64
	modTime time.Time
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() interface{}   { return nil }

func (m *MockFile) Close() error {
	return nil
}

func (m *MockFile) Write(p []byte) (n int, err error) {
	if m.ReadOnly {
		return 0, os.ErrPermission
	}
	return m.Buffer.Write(p)
}

// MockFileSystem implements the FileSystem interface for testing. Files carry
// explicit modification times so staleness logic is testable without sleeping.
type MockFileSystem struct {
	Files    map[string]*MockFile
	Dirs     map[string]bool
	fileMode map[string]os.FileMode
}

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:    make(map[string]*MockFile),
		Dirs:     make(map[string]bool),
		fileMode: make(map[string]os.FileMode),
	}
}

// WriteFileAt writes a file with an explicit modification time.
func (m *MockFileSystem) WriteFileAt(filename string, data []byte, mtime time.Time) {
	m.Files[filename] = &MockFile{Buffer: bytes.NewBuffer(data), ModTime: mtime}
	m.fileMode[filename] = 0o644
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	if file, ok := m.Files[filename]; ok {
		if file.ReadOnly {
			return nil, os.ErrPermission
		}
		return file.Bytes(), nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if file, ok := m.Files[filename]; ok && file.ReadOnly {
		return os.ErrPermission
	}
	m.Files[filename] = &MockFile{Buffer: bytes.NewBuffer(data), ModTime: time.Now()}
	m.fileMode[filename] = perm
	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.Dirs[path] = true
	return nil
}

func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	if f, ok := m.Files[name]; ok {
		return &mockFileInfo{
			name:    filepath.Base(name),
			mode:    m.fileMode[name],
			size:    int64(f.Len()),
			modTime: f.ModTime,
		}, nil
	}
	if m.isDir(name) {
		return &mockFileInfo{name: filepath.Base(name), mode: os.ModeDir | 0o755}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) isDir(name string) bool {
	if m.Dirs[name] {
		return true
	}
	prefix := name + "/"
	for path := range m.Files {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *MockFileSystem) Open(name string) (fs.File, error) {
	if file, ok := m.Files[name]; ok {
		return file, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) Create(name string) (fs.File, error) {
	file := &MockFile{Buffer: bytes.NewBuffer(nil), ModTime: time.Now()}
	m.Files[name] = file
	return file, nil
}

func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	if data, ok := m.Files[oldpath]; ok {
		m.Files[newpath] = data
		m.fileMode[newpath] = m.fileMode[oldpath]
		delete(m.Files, oldpath)
		delete(m.fileMode, oldpath)
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) Chtimes(name string, atime, mtime time.Time) error {
	if file, ok := m.Files[name]; ok {
		file.ModTime = mtime
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) RemoveAll(path string) error {
	delete(m.Files, path)
	delete(m.Dirs, path)
	prefix := path + "/"
	for p := range m.Files {
		if strings.HasPrefix(p, prefix) {
			delete(m.Files, p)
			delete(m.fileMode, p)
		}
	}
	for d := range m.Dirs {
		if strings.HasPrefix(d, prefix) {
			delete(m.Dirs, d)
		}
	}
	return nil
}

func (m *MockFileSystem) DoublestarGlob(pattern string) ([]string, error) {
	var matches []string
	// A literal pattern naming a directory matches the directory itself,
	// mirroring filepath glob semantics.
	if m.isDir(pattern) {
		matches = append(matches, pattern)
	}
	for filename := range m.Files {
		matched, err := doublestar.Match(pattern, filename)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, filename)
		}
	}
	return matches, nil
}

func (m *MockFileSystem) WalkDir(root string, fn iofs.WalkDirFunc) error {
	if f, ok := m.Files[root]; ok {
		info := &mockFileInfo{name: filepath.Base(root), mode: m.fileMode[root], modTime: f.ModTime}
		return fn(root, &mockDirEntry{name: info.name, info: info}, nil)
	}
	prefix := root + "/"
	for path, f := range m.Files {
		if strings.HasPrefix(path, prefix) {
			info := &mockFileInfo{
				name:    filepath.Base(path),
				mode:    m.fileMode[path],
				size:    int64(f.Len()),
				modTime: f.ModTime,
			}
			if err := fn(path, &mockDirEntry{name: info.name, info: info}, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

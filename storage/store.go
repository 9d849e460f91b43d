package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/mmap"

	"github.com/BaSui01/reflex/types"
)

const (
	archiveExt    = ".archive"
	quarantineExt = ".corrupt"
)

// ArchiveStore 是以 {root}/{tenant}/{id}.archive 布局的内容寻址存储.
type ArchiveStore struct {
	root   string
	logger *zap.Logger
}

// NewArchiveStore creates the store rooted at the given directory.
// The root is created on demand; an existing non-directory root is rejected.
func NewArchiveStore(root string, logger *zap.Logger) (*ArchiveStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(root) == "" {
		return nil, types.NewError(types.ErrConfigInvalid, "storage root is required")
	}

	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return nil, types.NewError(types.ErrConfigInvalid, "storage root is not a directory: "+root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.NewError(types.ErrStorageUnavailable, "create storage root").WithCause(err)
	}

	return &ArchiveStore{
		root:   root,
		logger: logger.With(zap.String("component", "archive_store")),
	}, nil
}

// Root returns the store's root directory.
func (s *ArchiveStore) Root() string {
	return s.root
}

func validSegment(seg string) bool {
	if seg == "" || seg == "." || seg == ".." {
		return false
	}
	return !strings.ContainsAny(seg, "/\\")
}

func (s *ArchiveStore) entryPath(tenant, id string) (string, error) {
	if !validSegment(tenant) || !validSegment(id) {
		return "", types.NewError(types.ErrInvalidRequest, "invalid tenant or entry id")
	}
	return filepath.Join(s.root, tenant, id+archiveExt), nil
}

// Write 原子写入一个条目: 同目录临时文件 + fsync + rename.
func (s *ArchiveStore) Write(tenant, id string, entry *Entry) error {
	path, err := s.entryPath(tenant, id)
	if err != nil {
		return err
	}

	data, err := EncodeEntry(entry)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewError(types.ErrStorageUnavailable, "create tenant directory").WithCause(err).WithTenant(tenant)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return types.NewError(types.ErrStorageUnavailable, "create temp file").WithCause(err).WithTenant(tenant)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return types.NewError(types.ErrStorageUnavailable, "write archive").WithCause(err).WithTenant(tenant)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return types.NewError(types.ErrStorageUnavailable, "fsync archive").WithCause(err).WithTenant(tenant)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewError(types.ErrStorageUnavailable, "close archive").WithCause(err).WithTenant(tenant)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.NewError(types.ErrStorageUnavailable, "rename archive into place").WithCause(err).WithTenant(tenant)
	}

	s.logger.Debug("archive written",
		zap.String("tenant", tenant),
		zap.String("id", id),
		zap.Int("bytes", len(data)))
	return nil
}

// Read 打开并解析一个条目,基于 mmap 零拷贝读取.
//
// 校验失败的文件被重命名为 .corrupt 隔离后返回 STORAGE_CORRUPT;
// 文件不存在返回 NOT_FOUND,两者对调用方是不同的信号.
func (s *ArchiveStore) Read(tenant, id string) (*Entry, error) {
	path, err := s.entryPath(tenant, id)
	if err != nil {
		return nil, err
	}

	r, err := mmap.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.ErrNotFound, "archive not found: "+id).WithTenant(tenant)
		}
		return nil, types.NewError(types.ErrStorageUnavailable, "open archive").WithCause(err).WithTenant(tenant)
	}

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
		r.Close()
		return nil, types.NewError(types.ErrStorageUnavailable, "read archive").WithCause(err).WithTenant(tenant)
	}
	r.Close()

	entry, err := DecodeEntry(data)
	if err != nil {
		s.quarantine(path, tenant, id, err)
		return nil, err
	}
	return entry, nil
}

// quarantine 把损坏的文件移到一边,避免反复解析失败.
func (s *ArchiveStore) quarantine(path, tenant, id string, cause error) {
	dst := path + quarantineExt
	if err := os.Rename(path, dst); err != nil {
		s.logger.Warn("quarantine failed",
			zap.String("tenant", tenant),
			zap.String("id", id),
			zap.Error(err))
		return
	}
	s.logger.Warn("archive quarantined",
		zap.String("tenant", tenant),
		zap.String("id", id),
		zap.String("quarantine", dst),
		zap.Error(cause))
}

// Delete removes an entry. Missing entries are not an error.
func (s *ArchiveStore) Delete(tenant, id string) error {
	path, err := s.entryPath(tenant, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrStorageUnavailable, "remove archive").WithCause(err).WithTenant(tenant)
	}
	return nil
}

// List returns the entry ids stored for a tenant.
func (s *ArchiveStore) List(tenant string) ([]string, error) {
	if !validSegment(tenant) {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid tenant")
	}

	dir := filepath.Join(s.root, tenant)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewError(types.ErrStorageUnavailable, "list tenant directory").WithCause(err).WithTenant(tenant)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, archiveExt))
	}
	return ids, nil
}

// Writable probes the root with a create+remove cycle. Feeds readiness.
func (s *ArchiveStore) Writable() bool {
	probe, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}

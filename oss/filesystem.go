package oss

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncobase/msst/ecode"
	"github.com/pkg/errors"
)

// FileSystem stores objects under a local folder. It backs tests and
// offline runs; it cannot presign.
type FileSystem struct {
	Folder string
}

// NewFileSystem creates a local file system storage rooted at folder,
// creating the folder if needed.
func NewFileSystem(folder string) (*FileSystem, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get absolute path for base folder")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create base folder")
	}
	return &FileSystem{Folder: abs}, nil
}

// fullPath resolves key under the base folder, rejecting keys that escape it.
func (s *FileSystem) fullPath(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}
	fp := filepath.Join(s.Folder, filepath.FromSlash(key))
	if fp != s.Folder && !strings.HasPrefix(fp, s.Folder+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return fp, nil
}

// Put stores the reader at key.
func (s *FileSystem) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (*ObjectRef, error) {
	fp, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.New("reader cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return nil, ecode.NewStorageError("oss.fs.put", 0, "", errors.Wrap(err, "failed to create directories for file path"))
	}

	dst, err := os.Create(fp)
	if err != nil {
		return nil, ecode.NewStorageError("oss.fs.put", 0, "", errors.Wrap(err, "failed to create file"))
	}
	defer dst.Close()

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(dst, h), r)
	if err != nil {
		_ = os.Remove(fp)
		return nil, ecode.NewStorageError("oss.fs.put", 0, "", errors.Wrap(err, "failed to copy data to file"))
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}

	return &ObjectRef{
		Bucket:       s.Folder,
		Key:          key,
		ETag:         hex.EncodeToString(h.Sum(nil)),
		Size:         n,
		LastModified: time.Now(),
		ContentType:  contentType,
		Metadata:     opts.Metadata,
	}, nil
}

// GetStream opens the file stored at key.
func (s *FileSystem) GetStream(ctx context.Context, key string) (io.ReadCloser, *ObjectRef, error) {
	ref, err := s.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	fp, _ := s.fullPath(key)
	f, err := os.Open(fp)
	if err != nil {
		return nil, nil, s.classify("oss.fs.get", key, err)
	}
	return f, ref, nil
}

// Stat reports file metadata. The ETag is the MD5 of the content.
func (s *FileSystem) Stat(_ context.Context, key string) (*ObjectRef, error) {
	fp, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fp)
	if err != nil {
		return nil, s.classify("oss.fs.stat", key, err)
	}
	if info.IsDir() {
		return nil, ecode.NewNotFoundError("oss.fs.stat", key, 0, "is a directory")
	}

	etag, err := fileMD5(fp)
	if err != nil {
		return nil, s.classify("oss.fs.stat", key, err)
	}

	return &ObjectRef{
		Bucket:       s.Folder,
		Key:          key,
		ETag:         etag,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		ContentType:  ContentTypeFor(key),
	}, nil
}

// Delete removes the file. Missing files are not an error.
func (s *FileSystem) Delete(_ context.Context, key string) error {
	fp, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return s.classify("oss.fs.delete", key, err)
	}
	return nil
}

// List walks files under prefix in lexical order.
func (s *FileSystem) List(ctx context.Context, prefix string) iter.Seq2[*ObjectRef, error] {
	return func(yield func(*ObjectRef, error) bool) {
		errStop := errors.New("stop")
		err := filepath.WalkDir(s.Folder, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(s.Folder, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if !strings.HasPrefix(key, prefix) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			ref := &ObjectRef{
				Bucket:       s.Folder,
				Key:          key,
				Size:         info.Size(),
				LastModified: info.ModTime(),
				ContentType:  ContentTypeFor(key),
			}
			if !yield(ref, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && err != errStop {
			yield(nil, ecode.NewStorageError("oss.fs.list", 0, "", errors.Wrap(err, "failed to list files")))
		}
	}
}

// Presign is not available for local storage.
func (s *FileSystem) Presign(context.Context, string, Method, time.Duration) (string, error) {
	return "", ecode.NewUnsupportedError("oss.fs.presign", "presigned URLs on local storage")
}

// GetEndpoint gets the endpoint. For FileSystem, the endpoint is "/".
func (s *FileSystem) GetEndpoint() string {
	return "/"
}

// Bucket returns the base folder.
func (s *FileSystem) Bucket() string {
	return s.Folder
}

func (s *FileSystem) classify(op, key string, err error) error {
	if os.IsNotExist(err) {
		return ecode.NewNotFoundError(op, key, 0, err.Error())
	}
	return ecode.NewStorageError(op, 0, "", err)
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fileSystemDriver implements the Driver interface for local storage.
type fileSystemDriver struct{}

// Name returns the driver name.
func (d *fileSystemDriver) Name() string {
	return "filesystem"
}

// Connect creates the base folder and returns the storage.
func (d *fileSystemDriver) Connect(_ context.Context, cfg *Config) (Interface, error) {
	return NewFileSystem(cfg.Bucket)
}

func init() {
	RegisterDriver(&fileSystemDriver{})
}

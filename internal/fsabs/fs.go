// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fsabs abstracts the filesystem operations that the step cache
// and scratch-directory tracker need, so tests can inject failures
// without touching a real disk.
package fsabs

import (
	"errors"
	"io/fs"
	"os"
)

// Permission bits: rwx------ .
const OwnerRWXPerms = 0o700

// FS abstracts the filesystem operations used by the directory cache and
// the scratch-directory tracker. We can't use os.DirFS or fs.StatFS
// because they lack some methods we need, so this is a purpose-built
// interface.
type FS interface {
	fs.StatFS

	MkdirAll(string, os.FileMode) error
	MkdirTemp(string, string) (string, error)
	OpenFile(string, int, os.FileMode) (*os.File, error)
	ReadFile(string) ([]byte, error)
	Rename(string, string) error
	Remove(string) error
	RemoveAll(string) error
	WriteFile(string, []byte, os.FileMode) error
}

// RealFS is the non-test implementation of FS, backed by the os package.
type RealFS struct{}

func (r *RealFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(name, perm) //nolint:wrapcheck
}

func (r *RealFS) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern) //nolint:wrapcheck
}

func (r *RealFS) Open(name string) (fs.File, error) {
	return os.Open(name) //nolint:wrapcheck
}

func (r *RealFS) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm) //nolint:wrapcheck
}

func (r *RealFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name) //nolint:wrapcheck
}

func (r *RealFS) RemoveAll(name string) error {
	return os.RemoveAll(name) //nolint:wrapcheck
}

func (r *RealFS) Remove(name string) error {
	return os.Remove(name) //nolint:wrapcheck
}

func (r *RealFS) Rename(from, to string) error {
	return os.Rename(from, to) //nolint:wrapcheck
}

func (r *RealFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name) //nolint:wrapcheck
}

func (r *RealFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm) //nolint:wrapcheck
}

// ErrorFS wraps an FS and lets tests inject errors from specific methods.
type ErrorFS struct {
	FS

	MkdirAllErr   error
	MkdirTempErr  error
	OpenFileErr   error
	ReadFileErr   error
	RenameErr     error
	RemoveErr     error
	RemoveAllErr  error
	StatErr       error
	WriteFileErr  error
}

func (e *ErrorFS) MkdirAll(name string, mode os.FileMode) error {
	if e.MkdirAllErr != nil {
		return e.MkdirAllErr
	}
	return e.FS.MkdirAll(name, mode) //nolint:wrapcheck
}

func (e *ErrorFS) MkdirTemp(dir, pattern string) (string, error) {
	if e.MkdirTempErr != nil {
		return "", e.MkdirTempErr
	}
	return e.FS.MkdirTemp(dir, pattern) //nolint:wrapcheck
}

func (e *ErrorFS) OpenFile(name string, flag int, mode os.FileMode) (*os.File, error) {
	if e.OpenFileErr != nil {
		return nil, e.OpenFileErr
	}
	return e.FS.OpenFile(name, flag, mode) //nolint:wrapcheck
}

func (e *ErrorFS) ReadFile(name string) ([]byte, error) {
	if e.ReadFileErr != nil {
		return nil, e.ReadFileErr
	}
	return e.FS.ReadFile(name) //nolint:wrapcheck
}

func (e *ErrorFS) Rename(from, to string) error {
	if e.RenameErr != nil {
		return e.RenameErr
	}
	return e.FS.Rename(from, to) //nolint:wrapcheck
}

func (e *ErrorFS) Remove(name string) error {
	if e.RemoveErr != nil {
		return e.RemoveErr
	}
	return e.FS.Remove(name) //nolint:wrapcheck
}

func (e *ErrorFS) RemoveAll(name string) error {
	if e.RemoveAllErr != nil {
		return e.RemoveAllErr
	}
	return e.FS.RemoveAll(name) //nolint:wrapcheck
}

func (e *ErrorFS) Stat(name string) (fs.FileInfo, error) {
	if e.StatErr != nil {
		return nil, e.StatErr
	}
	return e.FS.Stat(name) //nolint:wrapcheck
}

func (e *ErrorFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	if e.WriteFileErr != nil {
		return e.WriteFileErr
	}
	return e.FS.WriteFile(name, data, perm) //nolint:wrapcheck
}

// IsNotExistErr takes an error returned by FS.Stat (or similar) and reports
// whether the error means "the path you looked for doesn't exist."
func IsNotExistErr(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, fs.ErrInvalid)
}

// Exists reports whether the given path is a file or directory that exists.
func Exists(rfs FS, path string) (bool, error) {
	_, err := rfs.Stat(path)
	if err != nil {
		if IsNotExistErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

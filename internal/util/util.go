/*
Package util includes path and sysfs helpers shared by the samplers and the CLI.
*/
/*
 * Copyright (C) 2023 Intel Corporation
 * SPDX-License-Identifier: MIT
 */
package util

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandUser expands '~' to user's home directory, if found, otherwise returns original path
func ExpandUser(path string) string {
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	} else if strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

// AbsPath returns absolute path after expanding '~' to user's home dir
func AbsPath(path string) (string, error) {
	return filepath.Abs(ExpandUser(path))
}

// DirectoryExists returns whether the given directory (not a file) exists
func DirectoryExists(path string) (exists bool, err error) {
	var fileInfo fs.FileInfo
	fileInfo, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = nil
		}
		return
	}
	if !fileInfo.Mode().IsDir() {
		err = fmt.Errorf("%s not a directory", path)
		return
	}
	exists = true
	return
}

// CreateDirectory creates dir and its parents after expanding '~'. An existing
// directory is not an error.
func CreateDirectory(dir string) (path string, err error) {
	if path, err = AbsPath(dir); err != nil {
		return
	}
	err = os.MkdirAll(path, 0755)
	return
}

// ReadTrimmed returns the content of a small text file, such as a sysfs
// attribute, without surrounding whitespace.
func ReadTrimmed(path string) (value string, err error) {
	var content []byte
	if content, err = os.ReadFile(path); err != nil {
		return
	}
	value = strings.TrimSpace(string(content))
	return
}

// StringInList confirms if string is in list of strings
func StringInList(s string, l []string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

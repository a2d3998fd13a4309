// SPDX-License-Identifier: ice License 1.0

//go:build test

package cfg

import (
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cockroachdb/errors"
)

func init() {
	mustInit(findAllApplicationConfigFiles()...)
}

// findAllApplicationConfigFiles lists application.yaml candidates: the working directory (and its .testdata),
// then the module root relative to this file.
func findAllApplicationConfigFiles() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(wd, ".testdata"), wd)
	}
	//nolint:dogsled // Only the file is needed.
	_, callerFile, _, _ := runtime.Caller(0)
	dirs = append(dirs, filepath.Join(filepath.Dir(callerFile), ".."))

	var files []string
	for _, dir := range dirs {
		pattern := filepath.Join(dir, "application.yaml")
		found, err := filepath.Glob(pattern)
		if err != nil {
			log.Println(errors.Wrapf(err, "glob failed for [%v]", pattern))

			continue
		}
		files = append(files, found...)
	}

	return files
}

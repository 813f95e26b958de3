package validation

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// FileExistsError indicates a path check failed with a descriptive message.
type FileExistsError struct {
	Path    string
	Message string
}

func (e *FileExistsError) Error() string {
	return e.Message
}

// CheckFileExists checks that path exists and is not a directory.
func CheckFileExists(path string) error {
	if path == "" {
		return &FileExistsError{Path: path, Message: "file path cannot be empty"}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileExistsError{Path: path, Message: fmt.Sprintf("file not found: %s", path)}
		}
		return &FileExistsError{Path: path, Message: fmt.Sprintf("error checking file %s: %v", path, err)}
	}

	if info.IsDir() {
		return &FileExistsError{Path: path, Message: fmt.Sprintf("path is a directory, not a file: %s", path)}
	}

	return nil
}

// ResolveExecutable returns the file that running name would execute. A bare
// name such as "sd" is looked up in PATH the way exec.Command does; anything
// with a directory component is returned unchanged.
func ResolveExecutable(name string) (string, error) {
	if name == "" {
		return "", &FileExistsError{Path: name, Message: "file path cannot be empty"}
	}
	if filepath.Base(name) != name {
		return name, nil
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return "", &FileExistsError{Path: name, Message: fmt.Sprintf("executable not found in PATH: %s: %v", name, err)}
	}
	return resolved, nil
}

// CheckExecutable checks that path, after PATH resolution, is a regular file
// with an execute bit. Windows has no execute bit, so only existence is
// checked there.
func CheckExecutable(path string) error {
	resolved, err := ResolveExecutable(path)
	if err != nil {
		return err
	}
	if err := CheckFileExists(resolved); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return &FileExistsError{Path: resolved, Message: fmt.Sprintf("error checking file %s: %v", resolved, err)}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &FileExistsError{Path: resolved, Message: fmt.Sprintf("file is not executable: %s", resolved)}
	}
	return nil
}

// CheckDirectory checks that path exists and is a directory.
func CheckDirectory(path string) error {
	if path == "" {
		return &FileExistsError{Path: path, Message: "directory path cannot be empty"}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileExistsError{Path: path, Message: fmt.Sprintf("directory not found: %s", path)}
		}
		return &FileExistsError{Path: path, Message: fmt.Sprintf("error checking directory %s: %v", path, err)}
	}
	if !info.IsDir() {
		return &FileExistsError{Path: path, Message: fmt.Sprintf("path is not a directory: %s", path)}
	}
	return nil
}

// CheckWritableDir checks that path is a directory the process can create
// files in. When create is set, a missing directory is created first.
func CheckWritableDir(path string, create bool) error {
	if create && path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return &FileExistsError{Path: path, Message: fmt.Sprintf("cannot create directory %s: %v", path, err)}
		}
	}
	if err := CheckDirectory(path); err != nil {
		return err
	}

	check, err := os.CreateTemp(path, ".sd-write-check-*")
	if err != nil {
		return &FileExistsError{Path: path, Message: fmt.Sprintf("directory is not writable: %s: %v", path, err)}
	}
	name := check.Name()
	check.Close()
	os.Remove(name)
	return nil
}

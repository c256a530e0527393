// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxReadBytes caps what read_file loads before truncation by the executor.
const maxReadBytes = 1 << 20

// sensitiveFilePatterns are never readable, even inside the working directory.
var sensitiveFilePatterns = []string{
	".env",
	"id_rsa",
	"id_ed25519",
	".git-credentials",
	".netrc",
	".npmrc",
	".pem",
	".key",
	"credentials",
}

// ErrOutsideWorkDir is returned for paths that escape the working directory.
var ErrOutsideWorkDir = errors.New("path is outside the working directory")

// NewDefaultRegistry returns a registry holding the built-in tools, with
// file access confined to workDir.
func NewDefaultRegistry(workDir string) *Registry {
	r := NewRegistry()
	r.Register(CurrentTimeTool(time.Now))
	r.Register(ReadFileTool(workDir))
	r.Register(ListDirTool(workDir))
	return r
}

// =============================================================================
// CURRENT TIME
// =============================================================================

// CurrentTimeTool reports the time from now, optionally in an IANA zone.
func CurrentTimeTool(now func() time.Time) *Tool {
	return &Tool{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a given IANA time zone.",
		Parameters: []Parameter{
			{Name: "timezone", Type: "string", Description: "IANA zone such as Europe/Berlin; defaults to local time"},
		},
		Risk: RiskLow,
		Executor: ExecutorFunc(func(ctx context.Context, args map[string]any) (string, error) {
			t := now()
			if tz, _ := args["timezone"].(string); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown time zone %q", tz)
				}
				t = t.In(loc)
			}
			return t.Format("Monday, 2006-01-02 15:04:05 MST"), nil
		}),
	}
}

// =============================================================================
// FILES
// =============================================================================

// ReadFileTool reads a text file inside workDir.
func ReadFileTool(workDir string) *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read a text file from the working directory.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Required: true, Description: "file path relative to the working directory"},
		},
		Risk: RiskLow,
		Executor: ExecutorFunc(func(ctx context.Context, args map[string]any) (string, error) {
			path, err := resolveInWorkDir(workDir, args["path"].(string))
			if err != nil {
				return "", err
			}

			f, err := os.Open(path)
			if err != nil {
				return "", err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return "", err
			}
			if info.IsDir() {
				return "", fmt.Errorf("%s is a directory", args["path"])
			}

			buf, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
			if err != nil {
				return "", err
			}
			if bytes.IndexByte(buf, 0) != -1 {
				return "", fmt.Errorf("%s is a binary file", args["path"])
			}
			return string(buf), nil
		}),
	}
}

// ListDirTool lists a directory inside workDir.
func ListDirTool(workDir string) *Tool {
	return &Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory in the working directory.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "directory relative to the working directory; defaults to the root"},
		},
		Risk: RiskLow,
		Executor: ExecutorFunc(func(ctx context.Context, args map[string]any) (string, error) {
			rel, _ := args["path"].(string)
			if rel == "" {
				rel = "."
			}
			path, err := resolveInWorkDir(workDir, rel)
			if err != nil {
				return "", err
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, e := range entries {
				sb.WriteString(e.Name())
				if e.IsDir() {
					sb.WriteByte('/')
				}
				sb.WriteByte('\n')
			}
			return sb.String(), nil
		}),
	}
}

// resolveInWorkDir joins rel onto workDir and rejects anything that leaves
// it, including through symlinks, or that looks like a secret.
func resolveInWorkDir(workDir, rel string) (string, error) {
	root, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, rel)
	}
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	if !isPathWithinDir(path, root) {
		return "", ErrOutsideWorkDir
	}

	inside, _ := filepath.Rel(root, path)
	lower := strings.ToLower(filepath.ToSlash(inside))
	for _, pattern := range sensitiveFilePatterns {
		if strings.Contains(lower, pattern) {
			return "", fmt.Errorf("access to %s is blocked", rel)
		}
	}
	return path, nil
}

// isPathWithinDir reports whether path is dir or below it. A plain prefix
// check would let /home/userEVIL pass for /home/user.
func isPathWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

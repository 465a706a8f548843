// Package discovery walks a root directory and collects the log files a
// scan should consider. Directories matching an exclusion pattern are
// pruned before descent, file names are filtered through include and
// exclude globs, and anything that cannot be read is reported as a
// warning rather than aborting the walk.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Swatto86/LogSleuth/internal/logging"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

const (
	// DefaultMaxDepth is how far below the root the walk descends.
	DefaultMaxDepth = 10
	// AbsoluteMaxDepth caps MaxDepth regardless of configuration.
	AbsoluteMaxDepth = 50
	// DefaultMaxFiles is the default cap on files kept per discovery run.
	DefaultMaxFiles = 500
	// AbsoluteMaxFiles caps MaxFiles regardless of configuration.
	AbsoluteMaxFiles = 10000
	// DefaultLargeFileThreshold marks files at or above this size as large.
	DefaultLargeFileThreshold = 100 * 1024 * 1024
)

var (
	// ErrRootNotFound is returned when the scan root does not exist.
	ErrRootNotFound = errors.New("scan root not found")
	// ErrNotADirectory is returned when the scan root is not a directory.
	ErrNotADirectory = errors.New("scan root is not a directory")
)

// DefaultIncludePatterns returns the file name globs collected by default.
func DefaultIncludePatterns() []string {
	return []string{"*.log", "*.log.[0-9]*", "*.txt"}
}

// DefaultExcludePatterns returns the names skipped by default. Literal
// entries such as "node_modules" prune whole directories.
func DefaultExcludePatterns() []string {
	return []string{"*.gz", "*.zip", "*.bak", "*.tmp", "node_modules", ".git", "__pycache__"}
}

// Config controls a discovery walk.
type Config struct {
	// MaxDepth limits descent below the root. 0 discovers nothing, 1
	// collects only files directly under the root.
	MaxDepth int
	// MaxFiles caps how many files a run returns. When more files
	// match, the most recently modified ones are kept.
	MaxFiles int
	// IncludePatterns are globs matched against base file names. An
	// empty list includes every file.
	IncludePatterns []string
	// ExcludePatterns are globs matched against base file names and,
	// for literal entries, against directory names before descent.
	ExcludePatterns []string
	// LargeFileThreshold is the size in bytes at which a file is
	// flagged as large.
	LargeFileThreshold int64
	// ModifiedSince, when non-zero, skips files last modified before
	// the given instant. Files with an unreadable mtime are kept.
	ModifiedSince time.Time
}

// DefaultConfig returns a Config with the package defaults applied.
func DefaultConfig() Config {
	return Config{
		MaxDepth:           DefaultMaxDepth,
		MaxFiles:           DefaultMaxFiles,
		IncludePatterns:    DefaultIncludePatterns(),
		ExcludePatterns:    DefaultExcludePatterns(),
		LargeFileThreshold: DefaultLargeFileThreshold,
	}
}

// Result is the outcome of a discovery walk.
type Result struct {
	// Files are the discovered files, trimmed to MaxFiles. When the
	// cap trims the set, Files is ordered newest first.
	Files []types.DiscoveredFile
	// Warnings holds non-fatal problems encountered during the walk.
	Warnings []string
	// TotalMatched is the number of files that matched before the
	// MaxFiles cap was applied.
	TotalMatched int
	// FilesSeen counts regular files visited before any filtering.
	FilesSeen int
	// FilesSkipped counts files rejected by the include, exclude, or
	// modified-since filters. FilesSeen = TotalMatched + FilesSkipped.
	FilesSkipped int
	// DirsPruned counts directories excluded before descent.
	DirsPruned int
}

// FileFunc is invoked for each matched file with the running match count.
type FileFunc func(file types.DiscoveredFile, matched int)

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("discovery")
}

// Discover walks root and returns the files worth scanning. Unreadable
// entries become warnings. onFile may be nil.
func Discover(root string, cfg Config, onFile FileFunc) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("stat scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, root)
	}

	maxDepth := clamp(cfg.MaxDepth, 0, AbsoluteMaxDepth)
	maxFiles := clamp(cfg.MaxFiles, 1, AbsoluteMaxFiles)

	log := logComponent()
	log.Debug().
		Str("root", root).
		Int("max_depth", maxDepth).
		Int("max_files", maxFiles).
		Msg("discovery started")

	res := &Result{}
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("cannot access %s: %v", p, err))
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		depth := relDepth(root, p)
		if d.IsDir() {
			if depth > 0 && excludedDir(d.Name(), cfg.ExcludePatterns) {
				res.DirsPruned++
				return fs.SkipDir
			}
			if depth >= maxDepth {
				return fs.SkipDir
			}
			return nil
		}

		res.FilesSeen++
		name := d.Name()
		if matchesAny(name, cfg.ExcludePatterns) {
			res.FilesSkipped++
			return nil
		}
		if len(cfg.IncludePatterns) > 0 && !matchesAny(name, cfg.IncludePatterns) {
			res.FilesSkipped++
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("cannot read metadata for %s: %v", p, err))
			res.FilesSkipped++
			return nil
		}

		var modified *time.Time
		if mt := fi.ModTime(); !mt.IsZero() {
			utc := mt.UTC()
			modified = &utc
		}
		if !cfg.ModifiedSince.IsZero() && modified != nil && modified.Before(cfg.ModifiedSince) {
			res.FilesSkipped++
			return nil
		}

		size := fi.Size()
		isLarge := size >= cfg.LargeFileThreshold
		if isLarge {
			log.Debug().
				Str("path", p).
				Int64("size_mb", size/(1024*1024)).
				Msg("large file flagged")
		}

		res.TotalMatched++
		df := types.DiscoveredFile{
			Path:     p,
			Size:     size,
			Modified: modified,
			IsLarge:  isLarge,
		}
		if onFile != nil {
			onFile(df, res.TotalMatched)
		}
		res.Files = append(res.Files, df)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	if len(res.Files) > maxFiles {
		sort.SliceStable(res.Files, func(i, j int) bool {
			mi, mj := res.Files[i].Modified, res.Files[j].Modified
			switch {
			case mi == nil:
				return false
			case mj == nil:
				return true
			default:
				return mi.After(*mj)
			}
		})
		res.Files = res.Files[:maxFiles]
	}

	log.Debug().
		Int("files", len(res.Files)).
		Int("total_matched", res.TotalMatched).
		Int("files_seen", res.FilesSeen).
		Int("files_skipped", res.FilesSkipped).
		Int("dirs_pruned", res.DirsPruned).
		Int("warnings", len(res.Warnings)).
		Msg("discovery complete")
	return res, nil
}

// relDepth reports how many path components separate p from root. The
// root itself is depth 0, its direct children depth 1.
func relDepth(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// excludedDir reports whether a directory name matches a literal
// exclusion. Glob patterns only apply to file names.
func excludedDir(name string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.ContainsAny(pat, "*?[") {
			continue
		}
		if name == pat {
			return true
		}
	}
	return false
}

// matchesAny reports whether name matches any of the globs. Malformed
// patterns are treated as non-matching.
func matchesAny(name string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

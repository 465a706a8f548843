package profile

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Swatto86/LogSleuth/internal/logging"
)

//go:embed builtin/*.toml
var builtinFS embed.FS

// builtinOrder fixes registration order. Detection ties keep the
// earlier profile, so this order is part of detection behavior.
var builtinOrder = []string{
	"veeam_vbr.toml",
	"veeam_vbo365.toml",
	"iis_w3c.toml",
	"syslog_rfc3164.toml",
	"syslog_rfc5424.toml",
	"json_lines.toml",
	"log4j_default.toml",
	"generic_timestamp.toml",
	"plain_text.toml",
}

// Config holds registry configuration.
type Config struct {
	// Dir holds user profiles overriding builtins by id. Empty means
	// builtins only.
	Dir              string
	MaxProfiles      int
	MaxFileSize      int64
	MaxPatternLength int
}

// Registry owns the loaded profiles. Lookups read an immutable
// snapshot; Reload builds a new snapshot and swaps it atomically, so
// a scan holding a snapshot is never affected by a reload.
type Registry struct {
	cfg    Config
	logger *logging.Logger

	snapshot atomic.Pointer[Snapshot]

	mu         sync.Mutex // serializes Reload
	loadErrors []error
}

// Snapshot is one immutable generation of loaded profiles.
type Snapshot struct {
	profiles []*FormatProfile
	byID     map[string]*FormatProfile
}

// Detection is the outcome of auto-detection for one file.
type Detection struct {
	ProfileID  string
	Confidence float64
}

func logComponent() *logging.Logger {
	return logging.Global().WithComponent("profile")
}

// NewRegistry loads builtins plus the configured user directory.
// Individual profile failures are non-fatal and recorded; loading
// fails only when no profile at all could be compiled.
func NewRegistry(cfg Config, logger *logging.Logger) (*Registry, error) {
	if cfg.MaxProfiles <= 0 {
		cfg.MaxProfiles = 100
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 64 * 1024
	}
	if cfg.MaxPatternLength <= 0 {
		cfg.MaxPatternLength = 4096
	}
	if logger == nil {
		logger = logComponent()
	}

	r := &Registry{cfg: cfg, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the snapshot from builtins and the user directory
// and swaps it in. In-flight consumers keep their old snapshot.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	limits := Limits{MaxPatternLength: r.cfg.MaxPatternLength}
	var loadErrors []error

	profiles := r.loadBuiltins(limits, &loadErrors)
	r.logger.Info().Int("builtin_count", len(profiles)).Msg("loaded built-in profiles")

	if r.cfg.Dir != "" {
		users := r.loadUserProfiles(limits, &loadErrors)
		for _, user := range users {
			replaced := false
			for i, existing := range profiles {
				if existing.ID == user.ID {
					r.logger.Info().Str("profile_id", user.ID).Msg("user profile overrides built-in")
					profiles[i] = user
					replaced = true
					break
				}
			}
			if !replaced {
				r.logger.Info().Str("profile_id", user.ID).Msg("loaded user-defined profile")
				profiles = append(profiles, user)
			}
		}
	}

	if len(profiles) > r.cfg.MaxProfiles {
		loadErrors = append(loadErrors, fmt.Errorf("%w: %d > %d, truncating",
			ErrTooManyProfiles, len(profiles), r.cfg.MaxProfiles))
		r.logger.Warn().
			Int("count", len(profiles)).
			Int("max", r.cfg.MaxProfiles).
			Msg("too many profiles loaded, truncating")
		profiles = profiles[:r.cfg.MaxProfiles]
	}

	if len(profiles) == 0 {
		return fmt.Errorf("no profiles loaded (%d errors)", len(loadErrors))
	}

	byID := make(map[string]*FormatProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	r.snapshot.Store(&Snapshot{profiles: profiles, byID: byID})
	r.loadErrors = loadErrors

	r.logger.Info().Int("total", len(profiles)).Msg("profile loading complete")
	return nil
}

func (r *Registry) loadBuiltins(limits Limits, loadErrors *[]error) []*FormatProfile {
	var profiles []*FormatProfile
	for _, name := range builtinOrder {
		content, err := builtinFS.ReadFile(path.Join("builtin", name))
		if err != nil {
			// Missing embedded files indicate a build problem, but the
			// remaining profiles still load.
			r.logger.Error().Str("file", name).Err(err).Msg("failed to read built-in profile")
			*loadErrors = append(*loadErrors, fmt.Errorf("builtin %s: %w", name, err))
			continue
		}
		prof, err := compileDocument(string(content), limits, true)
		if err != nil {
			r.logger.Error().Str("file", name).Err(err).Msg("failed to load built-in profile")
			*loadErrors = append(*loadErrors, fmt.Errorf("builtin %s: %w", name, err))
			continue
		}
		r.logger.Debug().Str("profile_id", prof.ID).Msg("loaded built-in profile")
		profiles = append(profiles, prof)
	}
	return profiles
}

func (r *Registry) loadUserProfiles(limits Limits, loadErrors *[]error) []*FormatProfile {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug().Str("dir", r.cfg.Dir).Msg("user profile directory does not exist, skipping")
			return nil
		}
		*loadErrors = append(*loadErrors, fmt.Errorf("profile dir %s: %w", r.cfg.Dir, err))
		return nil
	}

	var profiles []*FormatProfile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		fullPath := filepath.Join(r.cfg.Dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			*loadErrors = append(*loadErrors, fmt.Errorf("%s: %w", fullPath, err))
			continue
		}
		if info.Size() > r.cfg.MaxFileSize {
			*loadErrors = append(*loadErrors, fmt.Errorf("%s: %w: %d > %d bytes",
				fullPath, ErrFileTooLarge, info.Size(), r.cfg.MaxFileSize))
			continue
		}

		content, err := os.ReadFile(fullPath)
		if err != nil {
			*loadErrors = append(*loadErrors, fmt.Errorf("%s: %w", fullPath, err))
			continue
		}

		prof, err := compileDocument(string(content), limits, false)
		if err != nil {
			r.logger.Warn().Str("file", fullPath).Err(err).Msg("skipping invalid profile")
			*loadErrors = append(*loadErrors, fmt.Errorf("%s: %w", fullPath, err))
			continue
		}
		profiles = append(profiles, prof)
	}
	return profiles
}

func compileDocument(content string, limits Limits, builtin bool) (*FormatProfile, error) {
	def, err := ParseDefinition(content)
	if err != nil {
		return nil, err
	}
	return def.Compile(limits, builtin)
}

// Snapshot returns the current immutable profile set.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Get resolves a profile by id from the current snapshot.
func (r *Registry) Get(id string) (*FormatProfile, error) {
	return r.Snapshot().Get(id)
}

// LoadErrors returns the non-fatal errors from the last reload.
func (r *Registry) LoadErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.loadErrors))
	copy(out, r.loadErrors)
	return out
}

// Get resolves a profile by id.
func (s *Snapshot) Get(id string) (*FormatProfile, error) {
	if p, ok := s.byID[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
}

// All returns the profiles in registration order. The slice is shared;
// callers must not modify it.
func (s *Snapshot) All() []*FormatProfile {
	return s.profiles
}

// PlainText returns the fallback profile.
func (s *Snapshot) PlainText() (*FormatProfile, error) {
	return s.Get(PlainTextID)
}

// Detect scores every profile against the sampled lines and the base
// file name. Confidence is the fraction of sample lines matching the
// profile's content pattern, plus a bonus when a file pattern matches
// the name; the bonus alone can clear the threshold, which covers
// freshly rotated files sampled before any lines were written. A later
// profile replaces the best only on strictly greater confidence, so
// ties keep registration order. Returns false when nothing reaches
// minConfidence.
func (s *Snapshot) Detect(fileName string, sample []string, minConfidence, filenameBonus float64) (Detection, bool) {
	var best Detection
	found := false

	for _, prof := range s.profiles {
		// The plain-text fallback matches everything; skip it.
		if prof.ID == PlainTextID {
			continue
		}

		confidence := 0.0
		if len(sample) > 0 {
			matches := 0
			for _, line := range sample {
				if prof.ContentMatch.MatchString(line) {
					matches++
				}
			}
			confidence = float64(matches) / float64(len(sample))
		}

		for _, pattern := range prof.FilePatterns {
			if ok, err := path.Match(pattern, fileName); err == nil && ok {
				confidence += filenameBonus
				if confidence > 1.0 {
					confidence = 1.0
				}
				break
			}
		}

		if confidence >= minConfidence && (!found || confidence > best.Confidence) {
			best = Detection{ProfileID: prof.ID, Confidence: confidence}
			found = true
		}
	}

	return best, found
}

// Package sync orchestrates a refresh: it scans every configured export
// source for export files, parses them, and feeds the candidates to the
// reconciliation engine.
package sync

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gmarchetti/diario/internal/gitsource"
	"github.com/gmarchetti/diario/internal/parser"
	"github.com/gmarchetti/diario/internal/reconcile"
)

// IsExportFile reports whether a file name looks like a registry export.
func IsExportFile(name string) bool {
	return strings.HasPrefix(name, "export_") && strings.Contains(name, ".xls")
}

// IsGitSource reports whether a configured source is a git remote rather
// than a local directory.
func IsGitSource(source string) bool {
	return strings.HasSuffix(source, ".git") ||
		strings.HasPrefix(source, "git@") ||
		strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "http://")
}

// Refresher runs refreshes against a fixed set of sources.
type Refresher struct {
	engine   *reconcile.Engine
	sources  []string
	reposDir string
}

// NewRefresher creates a refresher. reposDir is where git sources get their
// local checkouts.
func NewRefresher(engine *reconcile.Engine, sources []string, reposDir string) *Refresher {
	return &Refresher{engine: engine, sources: sources, reposDir: reposDir}
}

// Run scans every source and merges what it finds. Failures on one source
// or one file are logged and counted; the remaining work continues.
func (r *Refresher) Run() reconcile.Result {
	var total reconcile.Result
	for _, source := range r.sources {
		dir := source
		if IsGitSource(source) {
			localPath, err := gitPath(r.reposDir, source)
			if err != nil {
				slog.Error("skipping git source", "url", source, "error", err)
				total.Errors = append(total.Errors, err)
				continue
			}
			if err := gitsource.Sync(source, localPath); err != nil {
				slog.Error("skipping git source", "url", source, "error", err)
				total.Errors = append(total.Errors, err)
				continue
			}
			dir = localPath
		}

		res := r.refreshDir(dir)
		total.Inserted += res.Inserted
		total.Skipped += res.Skipped
		total.Sessions += res.Sessions
		total.Errors = append(total.Errors, res.Errors...)
	}

	slog.Info("refresh complete",
		"inserted", total.Inserted,
		"skipped", total.Skipped,
		"sessions", total.Sessions,
		"errors", len(total.Errors),
	)
	return total
}

func (r *Refresher) refreshDir(dir string) reconcile.Result {
	files, err := findExports(dir)
	if err != nil {
		return reconcile.Result{Errors: []error{err}}
	}

	var candidates []reconcile.Candidate
	var parseErrors []error
	for _, file := range files {
		parsed, err := parser.ParseFile(file)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", file, err))
			continue
		}
		candidates = append(candidates, parsed...)
	}

	res := r.engine.Merge(candidates)
	res.Errors = append(parseErrors, res.Errors...)
	return res
}

// findExports lists export files in a directory, sorted by name so older
// exports merge first. A missing directory is not an error: the watcher may
// create it later.
func findExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading export dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsExportFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// gitPath maps a git URL to a stable checkout path under baseDir.
func gitPath(baseDir, repoURL string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err == nil && (parsed.Scheme == "https" || parsed.Scheme == "http") {
		return filepath.Join(baseDir, parsed.Host, strings.TrimSuffix(parsed.Path, ".git")), nil
	}

	// scp-like syntax: git@host:user/repo.git
	if strings.Contains(repoURL, "@") {
		parts := strings.SplitN(repoURL, ":", 2)
		if len(parts) == 2 {
			hostAndUser := strings.SplitN(parts[0], "@", 2)
			if len(hostAndUser) == 2 {
				return filepath.Join(baseDir, hostAndUser[1], strings.TrimSuffix(parts[1], ".git")), nil
			}
		}
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}

package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/security"
)

// DocumentRef identifies one document a source can provide.
type DocumentRef struct {
	Path  string // vault-relative
	Title string
}

// Document is a fully read document ready for ingestion.
type Document struct {
	ID      string
	Path    string
	Title   string
	Content string
}

// DocumentSource abstracts where documents come from so the host
// application can supply its own corpus access.
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]DocumentRef, error)
	ReadDocument(ctx context.Context, path string) (Document, error)
}

// maxDocumentSize caps what a single document read will load.
const maxDocumentSize = 2 << 20 // 2 MiB

// supportedExtensions lists file types the vault walker ingests.
var supportedExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// VaultSource walks a note vault on disk. It honors .gitignore at the
// vault root, skips hidden directories, unsupported extensions and
// oversized files, and refuses paths outside the vault.
type VaultSource struct {
	root    string
	scope   *security.Scope
	ignorer *ignore.GitIgnore
	logger  log.Logger
}

// NewVaultSource creates a source rooted at the vault directory.
func NewVaultSource(root string, logger log.Logger) (*VaultSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", abs)
	}

	scope, err := security.NewScope(abs)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}

	src := &VaultSource{root: abs, scope: scope, logger: logger}
	if ign, err := ignore.CompileIgnoreFile(filepath.Join(abs, ".gitignore")); err == nil {
		src.ignorer = ign
	}
	return src, nil
}

// Root returns the absolute vault root.
func (v *VaultSource) Root() string { return v.root }

// ListDocuments walks the vault and returns every ingestible document.
func (v *VaultSource) ListDocuments(ctx context.Context) ([]DocumentRef, error) {
	var refs []DocumentRef
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, rerr := filepath.Rel(v.root, path)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || v.ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !v.Ingestible(path) {
			return nil
		}
		refs = append(refs, DocumentRef{Path: rel, Title: titleFromPath(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault: %w", err)
	}
	return refs, nil
}

// ReadDocument loads one document by vault-relative path.
func (v *VaultSource) ReadDocument(_ context.Context, relPath string) (Document, error) {
	abs, err := v.scope.Validate(filepath.Join(v.root, relPath))
	if err != nil {
		return Document{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Document{}, fmt.Errorf("reading document: %w", err)
	}
	if info.Size() > maxDocumentSize {
		return Document{}, fmt.Errorf("document %s exceeds size limit (%d bytes)", relPath, info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Document{}, fmt.Errorf("reading document: %w", err)
	}

	content := string(data)
	title := titleFromPath(relPath)
	if h := firstHeading(content); h != "" {
		title = h
	}
	return Document{
		ID:      DocID(relPath),
		Path:    relPath,
		Title:   title,
		Content: content,
	}, nil
}

// Ingestible reports whether the walker would ingest the file at path
// (absolute or vault-relative).
func (v *VaultSource) Ingestible(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(v.root, path)
		if err != nil || strings.HasPrefix(r, "..") {
			return false
		}
		rel = r
	}
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if !supportedExtensions[strings.ToLower(filepath.Ext(rel))] {
		return false
	}
	return !v.ignored(rel)
}

func (v *VaultSource) ignored(rel string) bool {
	return v.ignorer != nil && v.ignorer.MatchesPath(rel)
}

// DocID derives a stable document identifier from the vault-relative
// path. Renames produce a new document; the watcher deletes the old one.
func DocID(relPath string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:12])
}

func titleFromPath(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// firstHeading returns the first markdown H1 text, if any.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return ""
}

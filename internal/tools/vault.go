package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/rag"
	"github.com/ddunnock/mnemosyne/internal/security"
)

// maxNoteSize caps what readNote will load into a tool result.
const maxNoteSize = 2 << 20 // 2 MiB

// ReadNoteInput defines input for the readNote tool.
type ReadNoteInput struct {
	Path string `json:"path" jsonschema_description:"Vault-relative path of the note to read"`
}

// WriteNoteInput defines input for the writeNote tool.
type WriteNoteInput struct {
	Path    string `json:"path" jsonschema_description:"Vault-relative path of the note to write"`
	Content string `json:"content" jsonschema_description:"The full note content to write"`
}

// ListNotesInput defines input for the listNotes tool.
type ListNotesInput struct {
	Folder string `json:"folder,omitempty" jsonschema_description:"Vault-relative folder to list; empty lists the whole vault"`
}

// SearchNotesInput defines input for the searchNotes tool.
type SearchNotesInput struct {
	Query string `json:"query" jsonschema_description:"Natural language search query"`
	TopK  int    `json:"topK,omitempty" jsonschema_description:"Maximum number of results (default from configuration)"`
}

// vaultDeps are the shared collaborators of the vault toolset.
type vaultDeps struct {
	root      string
	scope     *security.Scope
	retriever *rag.Retriever
	logger    log.Logger
}

// NewVaultToolset builds the four vault tools: readNote, writeNote,
// listNotes and searchNotes. The scope confines every path the tools
// touch; pass a narrower scope than the vault root to restrict an agent
// to a subfolder.
func NewVaultToolset(vaultRoot string, scope *security.Scope, retriever *rag.Retriever, logger log.Logger) ([]Tool, error) {
	if scope == nil {
		return nil, fmt.Errorf("scope is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	deps := &vaultDeps{root: vaultRoot, scope: scope, retriever: retriever, logger: logger}

	readSchema, err := jsonschema.For[ReadNoteInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for readNote: %w", err)
	}
	writeSchema, err := jsonschema.For[WriteNoteInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for writeNote: %w", err)
	}
	listSchema, err := jsonschema.For[ListNotesInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for listNotes: %w", err)
	}
	searchSchema, err := jsonschema.For[SearchNotesInput](nil)
	if err != nil {
		return nil, fmt.Errorf("schema for searchNotes: %w", err)
	}

	return []Tool{
		&readNote{deps: deps, schema: readSchema},
		&writeNote{deps: deps, schema: writeSchema},
		&listNotes{deps: deps, schema: listSchema},
		&searchNotes{deps: deps, schema: searchSchema},
	}, nil
}

// resolve turns a vault-relative path into a validated absolute path.
func (d *vaultDeps) resolve(rel string) (string, error) {
	return d.scope.Validate(filepath.Join(d.root, rel))
}

type readNote struct {
	deps   *vaultDeps
	schema *jsonschema.Schema
}

func (*readNote) Name() string { return "readNote" }
func (*readNote) Description() string {
	return "Read the complete content of a note in the vault."
}
func (t *readNote) Schema() *jsonschema.Schema { return t.schema }
func (*readNote) Operation() OperationType     { return OperationRead }

func (t *readNote) Execute(_ context.Context, args map[string]any) Result {
	var in ReadNoteInput
	if err := decodeArgs(args, &in); err != nil {
		return Fail(OperationRead, err.Error())
	}
	if in.Path == "" {
		return Fail(OperationRead, "path is required")
	}

	abs, err := t.deps.resolve(in.Path)
	if err != nil {
		if isOutOfScope(err) {
			return ScopeViolation(OperationRead, in.Path)
		}
		return Fail(OperationRead, err.Error())
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Fail(OperationRead, fmt.Sprintf("note not found: %s", in.Path))
	}
	if info.Size() > maxNoteSize {
		return Fail(OperationRead, fmt.Sprintf("note too large: %d bytes", info.Size()))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Fail(OperationRead, fmt.Sprintf("reading note: %s", err))
	}
	return Succeed(OperationRead, map[string]any{
		"path":    in.Path,
		"content": string(data),
	}, in.Path)
}

type writeNote struct {
	deps   *vaultDeps
	schema *jsonschema.Schema
}

func (*writeNote) Name() string { return "writeNote" }
func (*writeNote) Description() string {
	return "Write or create a note in the vault, replacing any existing content."
}
func (t *writeNote) Schema() *jsonschema.Schema { return t.schema }
func (*writeNote) Operation() OperationType     { return OperationWrite }

func (t *writeNote) Execute(_ context.Context, args map[string]any) Result {
	var in WriteNoteInput
	if err := decodeArgs(args, &in); err != nil {
		return Fail(OperationWrite, err.Error())
	}
	if in.Path == "" {
		return Fail(OperationWrite, "path is required")
	}

	abs, err := t.deps.resolve(in.Path)
	if err != nil {
		if isOutOfScope(err) {
			return ScopeViolation(OperationWrite, in.Path)
		}
		return Fail(OperationWrite, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return Fail(OperationWrite, fmt.Sprintf("creating folder: %s", err))
	}
	if err := os.WriteFile(abs, []byte(in.Content), 0o600); err != nil {
		return Fail(OperationWrite, fmt.Sprintf("writing note: %s", err))
	}

	t.deps.logger.Info("note written", "path", in.Path, "bytes", len(in.Content))
	return Succeed(OperationWrite, map[string]any{
		"path":    in.Path,
		"written": len(in.Content),
	}, in.Path)
}

type listNotes struct {
	deps   *vaultDeps
	schema *jsonschema.Schema
}

func (*listNotes) Name() string { return "listNotes" }
func (*listNotes) Description() string {
	return "List note paths in the vault, optionally under one folder."
}
func (t *listNotes) Schema() *jsonschema.Schema { return t.schema }
func (*listNotes) Operation() OperationType     { return OperationRead }

func (t *listNotes) Execute(_ context.Context, args map[string]any) Result {
	var in ListNotesInput
	if err := decodeArgs(args, &in); err != nil {
		return Fail(OperationRead, err.Error())
	}

	start, err := t.deps.resolve(in.Folder)
	if err != nil {
		if isOutOfScope(err) {
			return ScopeViolation(OperationRead, in.Folder)
		}
		return Fail(OperationRead, err.Error())
	}

	var notes []string
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != start {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".markdown" && ext != ".txt" {
			return nil
		}
		rel, rerr := filepath.Rel(t.deps.root, path)
		if rerr != nil {
			return rerr
		}
		notes = append(notes, rel)
		return nil
	})
	if walkErr != nil {
		return Fail(OperationRead, fmt.Sprintf("listing notes: %s", walkErr))
	}

	return Succeed(OperationRead, map[string]any{
		"folder": in.Folder,
		"notes":  notes,
		"count":  len(notes),
	})
}

type searchNotes struct {
	deps   *vaultDeps
	schema *jsonschema.Schema
}

func (*searchNotes) Name() string { return "searchNotes" }
func (*searchNotes) Description() string {
	return "Search the vault semantically and return the most relevant note excerpts."
}
func (t *searchNotes) Schema() *jsonschema.Schema { return t.schema }
func (*searchNotes) Operation() OperationType     { return OperationRead }

func (t *searchNotes) Execute(ctx context.Context, args map[string]any) Result {
	var in SearchNotesInput
	if err := decodeArgs(args, &in); err != nil {
		return Fail(OperationRead, err.Error())
	}
	if in.Query == "" {
		return Fail(OperationRead, "query is required")
	}
	if t.deps.retriever == nil {
		return Fail(OperationRead, "retrieval is not configured")
	}

	results, err := t.deps.retriever.Retrieve(ctx, in.Query, rag.RetrieveOptions{TopK: in.TopK})
	if err != nil {
		return Fail(OperationRead, fmt.Sprintf("search failed: %s", err))
	}

	hits := make([]map[string]any, 0, len(results))
	for _, r := range results {
		hits = append(hits, map[string]any{
			"docTitle": r.Entry.Chunk.DocTitle,
			"section":  strings.Join(r.Entry.Chunk.SectionPath, " > "),
			"excerpt":  excerpt(r.Entry.Chunk.Text, 400),
			"score":    r.Score,
		})
	}
	return Succeed(OperationRead, map[string]any{
		"query":   in.Query,
		"results": hits,
	})
}

func isOutOfScope(err error) bool {
	return errors.Is(err, security.ErrOutOfScope)
}

// excerpt truncates text on a rune boundary for tool output.
func excerpt(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

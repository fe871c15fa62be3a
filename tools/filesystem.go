package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	udiff "github.com/aymanbagabas/go-udiff"
	"github.com/m4xw311/agentcli/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	env *env
}

type ReadResult struct {
	Content string `json:"content"`
}

func (r *ReadResult) Output() string { return r.Content }

func (t *ReadFileTool) Kind() Kind   { return KindRead }
func (t *ReadFileTool) Name() string { return KindRead.String() }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: filePath (string)."
}

func (t *ReadFileTool) Title(params Params) string {
	return params.StringOr("filePath", t.Name())
}

func (t *ReadFileTool) Execute(ctx context.Context, params Params) (Payload, error) {
	path, err := params.Require("filePath")
	if err != nil {
		return nil, err
	}
	abs, err := t.env.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := t.env.access.checkRead(path, abs); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file %s", path)
	}
	return &ReadResult{Content: string(content)}, nil
}

// EditFileTool replaces a substring of a file, or its whole content when
// no oldString is given. Nothing is written unless the edit can be applied.
type EditFileTool struct {
	env *env
}

type EditResult struct {
	Success bool `json:"success"`
}

func (r *EditResult) Output() string { return jsonOutput(r) }

func (t *EditFileTool) Kind() Kind   { return KindEdit }
func (t *EditFileTool) Name() string { return KindEdit.String() }
func (t *EditFileTool) Description() string {
	return "Edits an existing file. Args: filePath (string), newString (string), oldString (string, optional; replaces the whole file when omitted), replaceAll (bool, optional)."
}

func (t *EditFileTool) Title(params Params) string {
	return params.StringOr("filePath", t.Name())
}

func (t *EditFileTool) Execute(ctx context.Context, params Params) (Payload, error) {
	path, err := params.Require("filePath")
	if err != nil {
		return nil, err
	}
	newString, ok := params.String("newString")
	if !ok {
		return nil, errors.New("missing required parameter %q", "newString")
	}
	oldString, _ := params.String("oldString")

	abs, err := t.env.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := t.env.access.checkWrite(path, abs); err != nil {
		return nil, err
	}
	// Writes go to the link target; replacing the link would leave it unedited.
	if target, err := filepath.EvalSymlinks(abs); err == nil && target != abs {
		if err := t.env.access.checkWrite(path, target); err != nil {
			return nil, err
		}
		abs = target
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to edit file %s", path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to edit file %s", path)
	}
	content := string(data)

	updated := newString
	if oldString != "" {
		if !strings.Contains(content, oldString) {
			return nil, errors.New("failed to edit file %s: oldString not found in file", path)
		}
		if params.Bool("replaceAll") {
			updated = strings.ReplaceAll(content, oldString, newString)
		} else {
			updated = strings.Replace(content, oldString, newString, 1)
		}
	}

	if t.env.flags.DryRun {
		t.env.logger.Info("[DRY RUN] would edit file (skipping write)", "path", abs, "bytes", len(updated))
		return &EditResult{Success: true}, nil
	}
	if updated == content {
		return &EditResult{Success: true}, nil
	}

	if err := writeFileAtomic(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return nil, errors.Wrapf(err, "failed to edit file %s", path)
	}
	if t.env.logger.Enabled(ctx, slog.LevelDebug) {
		t.env.logger.Debug("edited file", "path", abs, "diff", udiff.Unified("a/"+path, "b/"+path, content, updated))
	}
	return &EditResult{Success: true}, nil
}

// writeFileAtomic replaces path through a temporary file in the same
// directory, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// ListTool lists the entries of one directory.
type ListTool struct {
	env *env
}

// Timestamp marshals as an ISO-8601 UTC time with millisecond precision.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format("2006-01-02T15:04:05.000Z"))
}

type ListItem struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	Modified Timestamp `json:"modified"`
}

type ListResult struct {
	Items []ListItem `json:"items"`
}

func (r *ListResult) Output() string { return jsonOutput(r) }

func (t *ListTool) Kind() Kind   { return KindList }
func (t *ListTool) Name() string { return KindList.String() }
func (t *ListTool) Description() string {
	return "Lists a directory with entry type, size and modification time. Args: path (string, optional, defaults to '.')."
}

func (t *ListTool) Title(params Params) string {
	return params.StringOr("path", ".")
}

func (t *ListTool) Execute(ctx context.Context, params Params) (Payload, error) {
	path := params.StringOr("path", ".")
	abs, err := t.env.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := t.env.access.checkRead(path, abs); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory %s", path)
	}

	items := make([]ListItem, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(abs, entry.Name())
		if hidden, _ := t.env.access.isHidden(full); hidden {
			continue
		}
		// Follow symlinks like stat(2); fall back to the link itself when
		// the target is gone.
		info, err := os.Stat(full)
		if err != nil {
			if info, err = entry.Info(); err != nil {
				t.env.logger.Debug("skipping entry", "path", full, "error", err)
				continue
			}
		}
		kind := "file"
		if info.IsDir() {
			kind = "directory"
		}
		items = append(items, ListItem{
			Name:     entry.Name(),
			Type:     kind,
			Size:     info.Size(),
			Modified: Timestamp(info.ModTime()),
		})
	}
	return &ListResult{Items: items}, nil
}

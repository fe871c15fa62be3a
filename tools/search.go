package tools

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/agentcli/errors"
)

const defaultGrepInclude = "**/*"

// GlobTool finds files by doublestar pattern.
type GlobTool struct {
	env *env
}

type GlobResult struct {
	Matches []string `json:"matches"`
}

func (r *GlobResult) Output() string { return jsonOutput(r) }

func (t *GlobTool) Kind() Kind   { return KindGlob }
func (t *GlobTool) Name() string { return KindGlob.String() }
func (t *GlobTool) Description() string {
	return "Finds files matching a glob pattern such as 'src/**/*.go'. Returns absolute paths. Args: pattern (string), path (string, optional, defaults to '.')."
}

func (t *GlobTool) Title(params Params) string {
	return params.StringOr("pattern", t.Name())
}

func (t *GlobTool) Execute(ctx context.Context, params Params) (Payload, error) {
	pattern, err := params.Require("pattern")
	if err != nil {
		return nil, err
	}
	root, pat, err := t.env.globRoot(params.StringOr("path", "."), pattern)
	if err != nil {
		return nil, err
	}

	matches := []string{}
	err = t.env.walk(ctx, root, pat, func(abs string, _ fs.DirEntry) {
		matches = append(matches, abs)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob pattern %s", pattern)
	}
	slices.Sort(matches)
	return &GlobResult{Matches: matches}, nil
}

// GrepTool searches file contents line by line.
type GrepTool struct {
	env *env
}

type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

type GrepResult struct {
	Matches []GrepMatch `json:"matches"`
}

func (r *GrepResult) Output() string { return jsonOutput(r) }

func (t *GrepTool) Kind() Kind   { return KindGrep }
func (t *GrepTool) Name() string { return KindGrep.String() }
func (t *GrepTool) Description() string {
	return "Searches file contents for a literal string. Args: pattern (string), include (glob, optional, defaults to '**/*'), path (string, optional, defaults to '.'), regex (bool, optional; treat pattern as a regular expression)."
}

func (t *GrepTool) Title(params Params) string {
	return params.StringOr("pattern", t.Name())
}

func (t *GrepTool) Execute(ctx context.Context, params Params) (Payload, error) {
	pattern, err := params.Require("pattern")
	if err != nil {
		return nil, err
	}
	match := func(line string) bool { return strings.Contains(line, pattern) }
	if params.Bool("regex") {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid regex pattern '%s'", pattern)
		}
		match = re.MatchString
	}

	include := params.StringOr("include", defaultGrepInclude)
	root, pat, err := t.env.globRoot(params.StringOr("path", "."), include)
	if err != nil {
		return nil, err
	}

	matches := []GrepMatch{}
	err = t.env.walk(ctx, root, pat, func(abs string, d fs.DirEntry) {
		if d.IsDir() {
			return
		}
		if !d.Type().IsRegular() {
			// Symlinks are followed; pipes, sockets and devices would block or never end.
			info, err := os.Stat(abs)
			if err != nil || !info.Mode().IsRegular() {
				t.env.logger.Debug("grep: skipping non-regular file", "path", abs)
				return
			}
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			t.env.logger.Debug("grep: skipping unreadable file", "path", abs, "error", err)
			return
		}
		matches = append(matches, grepLines(abs, data, match)...)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to grep pattern %s", pattern)
	}
	slices.SortStableFunc(matches, func(a, b GrepMatch) int { return strings.Compare(a.File, b.File) })
	return &GrepResult{Matches: matches}, nil
}

func grepLines(file string, data []byte, match func(string) bool) []GrepMatch {
	var out []GrepMatch
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	sc.Split(scanLinesKeepCR)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if match(line) {
			out = append(out, GrepMatch{File: file, Line: n, Content: line})
		}
	}
	return out
}

// scanLinesKeepCR splits on '\n' only, leaving any '\r' in the line.
func scanLinesKeepCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// globRoot resolves the search directory and validates the pattern. An
// absolute pattern carries its own root.
func (e *env) globRoot(path, pattern string) (string, string, error) {
	pattern = filepath.ToSlash(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return "", "", errors.New("invalid glob pattern '%s'", pattern)
	}

	var root string
	if filepath.IsAbs(filepath.FromSlash(pattern)) {
		base, rest := doublestar.SplitPattern(pattern)
		root, pattern = filepath.FromSlash(base), rest
	} else {
		abs, err := e.resolve(path)
		if err != nil {
			return "", "", err
		}
		root = abs
		pattern = strings.TrimPrefix(pattern, "./")
	}

	if err := e.access.checkRead(path, root); err != nil {
		return "", "", err
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to glob pattern %s", pattern)
	}
	if !info.IsDir() {
		return "", "", errors.New("failed to glob pattern %s: %s is not a directory", pattern, path)
	}
	return root, pattern, nil
}

// walk calls fn with the absolute path of every match under root. Dot
// entries are skipped unless the pattern names them explicitly, and hidden
// paths are never reported.
func (e *env) walk(ctx context.Context, root, pattern string, fn func(abs string, d fs.DirEntry)) error {
	allowDot := patternAllowsDot(pattern)
	return doublestar.GlobWalk(os.DirFS(root), pattern, func(rel string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !allowDot && hasDotSegment(rel) {
			return nil
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if hidden, _ := e.access.isHidden(abs); hidden {
			return nil
		}
		fn(abs, d)
		return nil
	})
}

func patternAllowsDot(pattern string) bool {
	return hasDotSegment(pattern)
}

func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if len(seg) > 1 && strings.HasPrefix(seg, ".") && seg != ".." {
			return true
		}
	}
	return false
}

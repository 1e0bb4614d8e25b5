package fstools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/tether/pkg/toolexecutor"
)

const (
	defaultReadLimit  = 2000
	maxLineLength     = 2000
	maxGrepFileSize   = 10 * 1024 * 1024
	emptyFileReminder = "System reminder: File exists but has empty contents"
)

// DefaultGated lists the tools that modify the workspace and pause for approval by default.
var DefaultGated = []string{"write_file", "edit_file"}

// Register adds every filesystem tool to the executor.
func Register(executor *toolexecutor.ToolExecutor, backend *Backend) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if backend == nil {
		return errors.New("filesystem backend is required")
	}

	tools := []toolexecutor.ToolDefinition{
		lsTool(backend),
		readFileTool(backend),
		writeFileTool(backend),
		editFileTool(backend),
		globTool(backend),
		grepTool(backend),
	}
	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func lsTool(b *Backend) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "ls",
		Description: "List files and directories at a path. Directories end with '/'.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Absolute directory path (default /)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			dir, err := b.Resolve(pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", b.Display(dir), err)
			}

			out := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := b.Display(filepath.Join(dir, entry.Name()))
				if entry.IsDir() {
					name += "/"
				}
				out = append(out, name)
			}
			sort.Strings(out)
			return out, nil
		},
	}
}

func readFileTool(b *Backend) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file with line numbers. Use offset and limit to page through large files.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Absolute file path", Required: true},
			{Name: "offset", Type: "integer", Description: "Line number to start from (0-based)", Required: false, Default: 0},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines to read", Required: false, Default: defaultReadLimit},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["file_path"].(string)
			target, err := b.Resolve(pathValue)
			if err != nil {
				return nil, err
			}
			offset := intParam(params["offset"], 0)
			limit := intParam(params["limit"], defaultReadLimit)
			if offset < 0 {
				offset = 0
			}
			if limit <= 0 {
				limit = defaultReadLimit
			}

			data, err := os.ReadFile(target)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("file '%s' not found", pathValue)
				}
				return nil, err
			}
			if len(bytes.TrimSpace(data)) == 0 {
				return emptyFileReminder, nil
			}

			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			if offset >= len(lines) {
				return nil, fmt.Errorf("line offset %d exceeds file length (%d lines)", offset, len(lines))
			}
			end := offset + limit
			if end > len(lines) {
				end = len(lines)
			}

			var sb strings.Builder
			for i := offset; i < end; i++ {
				line := lines[i]
				if len(line) > maxLineLength {
					line = line[:maxLineLength]
				}
				fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
	}
}

func writeFileTool(b *Backend) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Create a new file with the given content. Fails if the file already exists.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Absolute file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["file_path"].(string)
			target, err := b.Resolve(pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)

			if _, err := os.Stat(target); err == nil {
				return nil, fmt.Errorf("cannot write to %s because it already exists. Read and then make an edit, or write to a new path", pathValue)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Updated file %s", pathValue), nil
		},
	}
}

func editFileTool(b *Backend) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace exact text in an existing file.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "Absolute file path", Required: true},
			{Name: "old_string", Type: "string", Description: "Exact text to replace", Required: true},
			{Name: "new_string", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["file_path"].(string)
			target, err := b.Resolve(pathValue)
			if err != nil {
				return nil, err
			}
			oldString, _ := params["old_string"].(string)
			newString, _ := params["new_string"].(string)
			replaceAll, _ := params["replace_all"].(bool)
			if oldString == "" {
				return nil, fmt.Errorf("old_string is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("file '%s' not found", pathValue)
				}
				return nil, err
			}
			content := string(data)

			occurrences := strings.Count(content, oldString)
			switch {
			case occurrences == 0:
				return nil, fmt.Errorf("string not found in file: '%s'", oldString)
			case occurrences > 1 && !replaceAll:
				return nil, fmt.Errorf("string '%s' appears %d times in file. Use replace_all=true to replace all instances, or provide a more specific string with surrounding context", oldString, occurrences)
			}

			var updated string
			if replaceAll {
				updated = strings.ReplaceAll(content, oldString, newString)
			} else {
				updated = strings.Replace(content, oldString, newString, 1)
				occurrences = 1
			}

			info, err := os.Stat(target)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(updated), info.Mode().Perm()); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Successfully replaced %d instance(s) of the string in '%s'", occurrences, pathValue), nil
		},
	}
}

func globTool(b *Backend) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "glob",
		Description: "Find files matching a glob pattern such as **/*.go.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern; ** matches across directories", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search from (default /)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern, _ := params["pattern"].(string)
			pathValue, _ := params["path"].(string)
			base, err := b.Resolve(pathValue)
			if err != nil {
				return nil, err
			}

			matches := []string{}
			err = walkFiles(ctx, base, func(full, rel string) error {
				if matchGlob(pattern, rel) {
					matches = append(matches, b.Display(full))
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			sort.Strings(matches)
			return matches, nil
		},
	}
}

func grepTool(b *Backend) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents for a literal string.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Literal text to search for", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search (default /)", Required: false},
			{Name: "glob", Type: "string", Description: "Only search files matching this glob", Required: false},
			{Name: "output_mode", Type: "string", Description: "files_with_matches (default), content or count", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern, _ := params["pattern"].(string)
			if pattern == "" {
				return nil, fmt.Errorf("pattern is required")
			}
			pathValue, _ := params["path"].(string)
			globPattern, _ := params["glob"].(string)
			mode, _ := params["output_mode"].(string)
			if mode == "" {
				mode = "files_with_matches"
			}
			if mode != "files_with_matches" && mode != "content" && mode != "count" {
				return nil, fmt.Errorf("invalid output_mode %q", mode)
			}

			base, err := b.Resolve(pathValue)
			if err != nil {
				return nil, err
			}

			type fileHits struct {
				path  string
				lines []string
			}
			var hits []fileHits

			err = walkFiles(ctx, base, func(full, rel string) error {
				if globPattern != "" && !matchGlob(globPattern, rel) && !matchGlob(globPattern, filepath.Base(rel)) {
					return nil
				}
				lines, err := grepFile(full, pattern)
				if err != nil || len(lines) == 0 {
					return nil
				}
				hits = append(hits, fileHits{path: b.Display(full), lines: lines})
				return nil
			})
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return fmt.Sprintf("No matches found for pattern '%s'", pattern), nil
			}

			var sb strings.Builder
			for _, h := range hits {
				switch mode {
				case "files_with_matches":
					sb.WriteString(h.path + "\n")
				case "count":
					fmt.Fprintf(&sb, "%s: %d\n", h.path, len(h.lines))
				case "content":
					sb.WriteString(h.path + ":\n")
					for _, line := range h.lines {
						sb.WriteString("  " + line + "\n")
					}
				}
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
	}
}

// walkFiles visits regular files under base, passing slash-separated paths relative to base.
func walkFiles(ctx context.Context, base string, visit func(full, rel string) error) error {
	return filepath.WalkDir(base, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if full == base {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if full != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, full)
		if err != nil {
			return nil
		}
		return visit(full, filepath.ToSlash(rel))
	})
}

func grepFile(path, pattern string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxGrepFileSize {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.IndexByte(line, 0) >= 0 {
			return nil, nil
		}
		if strings.Contains(line, pattern) {
			out = append(out, fmt.Sprintf("%d: %s", lineNum, line))
		}
	}
	return out, scanner.Err()
}

func intParam(value interface{}, fallback int) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

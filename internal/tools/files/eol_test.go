package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectEOL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want EOL
	}{
		{"empty", "", EOLUnknown},
		{"no newline", "abc", EOLUnknown},
		{"lf", "a\nb\n", EOLLf},
		{"crlf", "a\r\nb\r\n", EOLCrlf},
		{"mixed crlf dominant", "a\r\nb\r\nc\n", EOLCrlf},
		{"mixed lf dominant", "a\nb\nc\r\n", EOLLf},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectEOL([]byte(tc.in)); got != tc.want {
				t.Fatalf("detectEOL(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeEOLPreservesTrailingNewline(t *testing.T) {
	// trailing newline present stays present
	if got := normalizeEOLPreserveEOF("a\nb\n", EOLCrlf); got != "a\r\nb\r\n" {
		t.Fatalf("got %q", got)
	}
	// trailing newline absent stays absent
	if got := normalizeEOLPreserveEOF("a\r\nb", EOLLf); got != "a\nb" {
		t.Fatalf("got %q", got)
	}
	// no-op when already normalized
	if got := normalizeEOLPreserveEOF("a\nb", EOLLf); got != "a\nb" {
		t.Fatalf("got %q", got)
	}
}

func TestParseEOLPolicy(t *testing.T) {
	if ParseEOLPolicy("CRLF") != EOLPolicyCrlf {
		t.Fatal("crlf not parsed")
	}
	if ParseEOLPolicy("git") != EOLPolicyGit {
		t.Fatal("git not parsed")
	}
	if ParseEOLPolicy("") != EOLPolicyDetect {
		t.Fatal("empty should default to detect")
	}
	if ParseEOLPolicy("bogus") != EOLPolicyDetect {
		t.Fatal("unknown should default to detect")
	}
}

func TestWritePreservesExistingCRLF(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "win.txt")
	if err := os.WriteFile(path, []byte("old\r\nlines\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	writeTool := NewWriteTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]interface{}{
		"path":    "win.txt",
		"content": "new\ncontent\n",
	})
	if _, err := writeTool.Execute(context.Background(), params); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new\r\ncontent\r\n" {
		t.Fatalf("expected CRLF preserved, got %q", data)
	}
}

func TestWriteEOLOverride(t *testing.T) {
	root := t.TempDir()
	writeTool := NewWriteTool(Config{Workspace: root})

	params, _ := json.Marshal(map[string]interface{}{
		"path":    "forced.txt",
		"content": "a\nb\n",
		"eol":     "crlf",
	})
	if _, err := writeTool.Execute(context.Background(), params); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "forced.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\r\nb\r\n" {
		t.Fatalf("expected forced CRLF, got %q", data)
	}
}

func TestNewFileDefaultsToLF(t *testing.T) {
	root := t.TempDir()
	writeTool := NewWriteTool(Config{Workspace: root})

	params, _ := json.Marshal(map[string]interface{}{
		"path":    "fresh.txt",
		"content": "x\r\ny\r\n",
	})
	if _, err := writeTool.Execute(context.Background(), params); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "fresh.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "x\ny\n" {
		t.Fatalf("expected new file normalized to LF, got %q", data)
	}
}

func TestEditPreservesDetectedEOL(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "win.txt")
	if err := os.WriteFile(path, []byte("alpha\r\nbeta\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	editTool := NewEditTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]interface{}{
		"path": "win.txt",
		"edits": []map[string]interface{}{
			{"old_text": "alpha", "new_text": "gamma"},
		},
	})
	if _, err := editTool.Execute(context.Background(), params); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "gamma\r\nbeta\r\n" {
		t.Fatalf("expected CRLF preserved through edit, got %q", data)
	}
}

package report

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `# Report Title

An executive summary with a citation [1].

## Findings

- finding one
- see [the source](https://example.com/a)

## Sources

[1] https://example.com/a
`

func TestWriteMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	if err := WriteMarkdown(sample, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != sample {
		t.Fatalf("round trip failed: %v", err)
	}
}

func TestWritePDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := WritePDF(sample, path); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("empty pdf")
	}
	b, _ := os.ReadFile(path)
	if len(b) < 4 || string(b[:4]) != "%PDF" {
		t.Fatal("not a pdf header")
	}
}

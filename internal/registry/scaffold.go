package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/roach88/pocharness/internal/meta"
)

const maxCaseID = 9999

var crateNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// The report fields are left for the author; validate flags the case until
// issue_url is filled in.
var scaffoldTemplate = template.Must(template.New("case").Parse("/*!\n" +
	"```rudra-poc\n" +
	`[target]
crate = "{{.Crate}}"
version = "{{.Version}}"

[test]
analyzers = []

[report]
issue_url = ""
title = "issue title"
description = """
issue description"""
code_snippets = []
patched = []
informational = "unsound"
` + "```\n" +
	`!*/
#![forbid(unsafe_code)]

fn main() {
    println!("Hello, World!")
}
`))

// NextID returns the lowest four-digit id not used by any *.rs file in root.
// Malformed cases still reserve their id.
func NextID(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", &CorpusError{Root: root, Err: err}
	}
	used := make(map[string]bool)
	for _, e := range entries {
		if id, _, err := meta.CaseID(e.Name()); err == nil {
			used[id] = true
		}
	}
	for n := 0; n <= maxCaseID; n++ {
		id := fmt.Sprintf("%04d", n)
		if !used[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("corpus %s has no free case id", root)
}

// Scaffold writes a new case template for crate@version under the next free
// id and returns its path.
func Scaffold(root, crate, version string) (string, error) {
	if !crateNameRe.MatchString(crate) {
		return "", fmt.Errorf("invalid crate name %q", crate)
	}
	if version == "" {
		return "", fmt.Errorf("version is required")
	}

	id, err := NextID(root)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := scaffoldTemplate.Execute(&buf, meta.Target{Crate: crate, Version: version}); err != nil {
		return "", fmt.Errorf("render case template: %w", err)
	}

	path := filepath.Join(root, fmt.Sprintf("%s-%s%s", id, crate, CaseExt))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// Package testutil builds stand-in yt-dlp executables for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// preamble parses the arguments the service passes to yt-dlp and exposes
// them to the script body as $out (the -o template), $base (template without
// the extension placeholder), $file ($base with .mp4) and $url (last argument).
const preamble = `#!/bin/sh
out=""
url=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) url="$1"; shift ;;
  esac
done
base=$(printf '%s' "$out" | sed 's/\.%(ext)s$//')
file="$base.mp4"
`

// FakeTool writes an executable script and returns its path. The test is
// skipped when no POSIX shell is available.
func FakeTool(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte(preamble+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

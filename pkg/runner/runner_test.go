package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalRun(t *testing.T) {
	local := &Local{}
	out, err := local.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("run echo: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("expected hello, got %q", out)
	}
}

func TestLocalRunEmptyCommand(t *testing.T) {
	local := &Local{}
	if _, err := local.Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestLocalRunFailureReturnsOutput(t *testing.T) {
	local := &Local{}
	out, err := local.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatalf("expected command failure")
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected stderr in combined output, got %q", out)
	}
}

func TestLocalUpload(t *testing.T) {
	dir := t.TempDir()
	local := &Local{Dir: dir}

	if err := local.Upload(context.Background(), "ctx/app.bin", []byte("payload"), 0o755); err != nil {
		t.Fatalf("upload: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ctx", "app.bin"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestShellQuote(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"docker", "ps", "-a"}, "docker ps -a"},
		{[]string{"echo", "two words"}, "echo 'two words'"},
		{[]string{"echo", "it's"}, `echo 'it'\''s'`},
		{[]string{"touch", ""}, "touch ''"},
	}
	for _, tc := range cases {
		if got := shellQuote(tc.args); got != tc.want {
			t.Fatalf("shellQuote(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestFakeRecordsCalls(t *testing.T) {
	fake := &Fake{Handler: func(args []string) (string, error) {
		return "ok", nil
	}}

	out, err := fake.Run(context.Background(), "docker", "stop", "estore")
	if err != nil || out != "ok" {
		t.Fatalf("unexpected result %q, %v", out, err)
	}

	lines := fake.CommandLines()
	if len(lines) != 1 || lines[0] != "docker stop estore" {
		t.Fatalf("unexpected recorded calls %v", lines)
	}
}

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/api"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"task", "daemon", "health", "config", "start", "stop", "status"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestParseTaskID(t *testing.T) {
	if id, err := parseTaskID(" 42 "); err != nil || id != 42 {
		t.Fatalf("got %d, %v", id, err)
	}
	for _, bad := range []string{"", "abc", "0", "-3"} {
		if _, err := parseTaskID(bad); err == nil {
			t.Errorf("parseTaskID(%q) should fail", bad)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel("downloading_materials"); got != "Downloading Materials" {
		t.Fatalf("got %q", got)
	}
	if got := statusLabel("pending"); got != "Pending" {
		t.Fatalf("got %q", got)
	}
}

func TestProgressCell(t *testing.T) {
	view := api.TaskView{ProgressStage: "mixing_bgm", ProgressPercent: 80, ProgressMessage: "mixing"}
	if got := progressCell(view); got != "Mixing Bgm 80% mixing" {
		t.Fatalf("got %q", got)
	}
	if got := progressCell(api.TaskView{}); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "1") || !strings.Contains(out, "A") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}

func TestTaskCreateRejectsBadManifest(t *testing.T) {
	badPath := filepath.Join(t.TempDir(), "manifest.json")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"task", "create", badPath})
	if err := cmd.Execute(); err == nil {
		t.Fatal("create with missing manifest should fail")
	}
}

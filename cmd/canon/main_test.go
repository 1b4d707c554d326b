package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmdHasSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := map[string]bool{"serve": false, "worker": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestVersionCommandOutput(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if !strings.Contains(out.String(), "canon") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

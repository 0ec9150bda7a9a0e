package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kometaai/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	stateDir   string
	kometaDir  string
}

type envOption func(*strings.Builder)

func withRadarr(url string) envOption {
	return func(b *strings.Builder) {
		fmt.Fprintf(b, "\n[radarr]\nurl = %q\napi_key = \"radarr-key\"\n", url)
	}
}

func withOpenRouter(url string) envOption {
	return func(b *strings.Builder) {
		fmt.Fprintf(b, "\n[llm]\nprovider = \"openrouter\"\napi_key = \"llm-key\"\nbase_url = %q\nmax_attempts = 1\n", url)
	}
}

func withNtfy(url string) envOption {
	return func(b *strings.Builder) {
		fmt.Fprintf(b, "\n[notifications]\nntfy_topic = %q\n", url)
	}
}

func setupCLITestEnv(t *testing.T, opts ...envOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, key := range []string{"RADARR_URL", "RADARR_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(key, "")
	}

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		stateDir:   filepath.Join(base, "state"),
		kometaDir:  filepath.Join(base, "kometa"),
	}
	if err := os.MkdirAll(env.kometaDir, 0o755); err != nil {
		t.Fatalf("mkdir kometa dir: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\nstate_dir = %q\nkometa_config_dir = %q\nlog_dir = %q\n",
		env.stateDir, env.kometaDir, filepath.Join(base, "logs"))
	b.WriteString("\n[logging]\nlevel = \"error\"\n")
	for _, opt := range opts {
		opt(&b)
	}
	if err := os.WriteFile(env.configPath, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e *cliTestEnv) writeCollections(t *testing.T, name, content string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(e.kometaDir, name), content)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\nactual: %s", needle, haystack)
	}
}

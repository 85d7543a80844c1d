package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Language is a supported execution runtime tag.
type Language string

const (
	NodeJS     Language = "nodejs"
	TypeScript Language = "typescript"
	Deno       Language = "deno"
	Bash       Language = "bash"
	Cmd        Language = "cmd"
	Go         Language = "go"
	Rust       Language = "rust"
	C          Language = "c"
	CPP        Language = "cpp"
	Java       Language = "java"
	Python     Language = "python"
)

// languageSpec knows how to turn source text into one or two execPhases
// (compile, then run) inside a job's temporary directory.
type languageSpec struct {
	// build returns the optional compile phase and the mandatory run phase.
	build func(dir, source string) (compile, run *execPhase, err error)
}

var languages = map[Language]languageSpec{
	NodeJS:     {build: inlineSpec("node", "-e")},
	TypeScript: {build: inlineSpec("node", "-e")},
	Python:     {build: inlineSpec("python3", "-c")},
	Deno:       {build: fileSpec("code.ts", "", func(file string) (string, []string) { return "deno", []string{"run", "--allow-all", file} })},
	Bash:       {build: fileSpec("script.sh", "set -e\n", func(file string) (string, []string) { return "sh", []string{file} })},
	Cmd:        {build: fileSpec("script.bat", "@echo off\n", func(file string) (string, []string) { return "cmd.exe", []string{"/C", file} })},
	Go:         {build: goRunSpec},
	Rust:       {build: compileRunSpec("code.rs", "code", func(src, out string) (string, []string) { return "rustc", []string{src, "-o", out} })},
	C:          {build: compileRunSpec("code.c", "code", func(src, out string) (string, []string) { return "cc", []string{src, "-o", out} })},
	CPP:        {build: compileRunSpec("code.cpp", "code", func(src, out string) (string, []string) { return "c++", []string{src, "-o", out} })},
	Java:       {build: javaSpec},
}

func inlineSpec(interpreter, flag string) func(dir, source string) (*execPhase, *execPhase, error) {
	return func(dir, source string) (*execPhase, *execPhase, error) {
		return nil, &execPhase{Dir: dir, Name: interpreter, Args: []string{flag, source}}, nil
	}
}

func fileSpec(fileName, prelude string, runCmd func(file string) (string, []string)) func(dir, source string) (*execPhase, *execPhase, error) {
	return func(dir, source string) (*execPhase, *execPhase, error) {
		path := filepath.Join(dir, fileName)
		if err := os.WriteFile(path, []byte(prelude+source), 0o700); err != nil {
			return nil, nil, fmt.Errorf("writing %s: %w", fileName, err)
		}
		name, args := runCmd(path)
		return nil, &execPhase{Dir: dir, Name: name, Args: args}, nil
	}
}

func goRunSpec(dir, source string) (*execPhase, *execPhase, error) {
	path := filepath.Join(dir, "code.go")
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		return nil, nil, fmt.Errorf("writing code.go: %w", err)
	}
	return nil, &execPhase{Dir: dir, Name: "go", Args: []string{"run", path}}, nil
}

func compileRunSpec(srcName, outName string, compileCmd func(src, out string) (string, []string)) func(dir, source string) (*execPhase, *execPhase, error) {
	return func(dir, source string) (*execPhase, *execPhase, error) {
		src := filepath.Join(dir, srcName)
		if err := os.WriteFile(src, []byte(source), 0o600); err != nil {
			return nil, nil, fmt.Errorf("writing %s: %w", srcName, err)
		}
		out := filepath.Join(dir, outName)
		name, args := compileCmd(src, out)
		compile := &execPhase{Dir: dir, Name: name, Args: args}
		run := &execPhase{Dir: dir, Name: out}
		return compile, run, nil
	}
}

func javaSpec(dir, source string) (*execPhase, *execPhase, error) {
	path := filepath.Join(dir, "Main.java")
	wrapped := "public class Main {\n  public static void main(String[] args) throws Exception {\n" + source + "\n  }\n}\n"
	if err := os.WriteFile(path, []byte(wrapped), 0o600); err != nil {
		return nil, nil, fmt.Errorf("writing Main.java: %w", err)
	}
	compile := &execPhase{Dir: dir, Name: "javac", Args: []string{path}}
	run := &execPhase{Dir: dir, Name: "java", Args: []string{"-cp", dir, "Main"}}
	return compile, run, nil
}

// ShellLanguageForOS returns the shell language tag the facade should force
// shell-style requests to: bash everywhere except Windows, where it's cmd.
func ShellLanguageForOS() Language {
	if runtime.GOOS == "windows" {
		return Cmd
	}
	return Bash
}

// NormalizeExecuteLanguage applies spec §4.4's normalisation rule for
// non-shell `execute` requests: empty/"auto"/"typescript" all map to nodejs.
func NormalizeExecuteLanguage(tag string) Language {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "auto", "typescript":
		return NodeJS
	default:
		return Language(tag)
	}
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/glootie/exec-service/executor"
	"github.com/glootie/exec-service/pool"
	"github.com/glootie/exec-service/runner"
	"github.com/glootie/exec-service/taskstore"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var language string
	var workdir string
	var background bool
	var follow bool
	cmd := &cobra.Command{
		Use:          "run [-- SOURCE]",
		Short:        "Run a source snippet or shell command through the worker pool",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := sourceFromArgsOrStdin(args)
			if err != nil {
				return err
			}
			if workdir == "" {
				if workdir, err = os.Getwd(); err != nil {
					return fmt.Errorf("resolving working directory: %w", err)
				}
			}
			return runDirect(source, language, workdir, background, follow)
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "Language tag (nodejs, typescript, deno, go, rust, python, c, cpp, java, bash, auto)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory (defaults to the current directory)")
	cmd.Flags().BoolVar(&background, "background", false, "Submit and return immediately instead of waiting on the foreground ceiling")
	cmd.Flags().BoolVar(&follow, "follow", false, "After backgrounding, poll status and stream output until the task finishes")
	return cmd
}

func sourceFromArgsOrStdin(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading source from stdin: %w", err)
	}
	return string(data), nil
}

func runDirect(source, language, workdir string, background, follow bool) error {
	store := taskstore.New(taskstore.Config{})
	p := pool.New(pool.Config{}, store)
	defer func() {
		p.Shutdown()
		store.Shutdown()
	}()
	e := executor.New(p, store)

	var resp executor.ToolResponse
	if runner.Language(language) == runner.Bash || language == "sh" || language == "zsh" {
		resp = e.ExecuteShell(executor.ShellPayload{
			WorkingDirectory: workdir,
			Commands:         []string{source},
			RunInBackground:  background,
		})
	} else {
		resp = e.Execute(executor.ExecutePayload{
			WorkingDirectory: workdir,
			Code:             source,
			Language:         language,
			RunInBackground:  background,
		})
	}

	for _, c := range resp.Content {
		fmt.Println(c.Text)
	}

	if follow && !resp.IsError {
		taskID, ok := parseTaskID(resp.Content)
		if ok {
			followTask(e, taskID)
		}
	}

	if resp.IsError {
		return fmt.Errorf("execution reported an error")
	}
	return nil
}

func parseTaskID(content []executor.ContentItem) (int64, bool) {
	for _, c := range content {
		idx := strings.Index(c.Text, "task_")
		if idx < 0 {
			continue
		}
		rest := c.Text[idx+len("task_"):]
		end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
		if end == 0 {
			continue
		}
		if end < 0 {
			end = len(rest)
		}
		id, err := strconv.ParseInt(rest[:end], 10, 64)
		if err != nil {
			continue
		}
		return id, true
	}
	return 0, false
}

// followTask polls a backgrounded task's output and status until it reaches
// a terminal state, or until an interrupt asks it to close the task early.
func followTask(e *executor.Executor, taskID int64) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			resp := e.CloseTask(taskID)
			fmt.Println(resp.Content[0].Text)
			return
		case <-ticker.C:
			out := e.ReadAndClearTaskOutput(taskID)
			if out.Content[0].Text != "" {
				fmt.Print(out.Content[0].Text)
			}
			status := e.GetTask(taskID)
			if status.IsError {
				return
			}
			if strings.Contains(status.Content[0].Text, "completed") || strings.Contains(status.Content[0].Text, "failed") {
				fmt.Println(status.Content[0].Text)
				return
			}
		}
	}
}

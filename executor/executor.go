// Package executor is the public surface used by the request dispatcher: it
// validates payloads, normalises languages, runs the foreground-ceiling to
// background-promotion protocol, and formats responses.
package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/glootie/exec-service/pool"
	"github.com/glootie/exec-service/runner"
	"github.com/glootie/exec-service/taskstore"
)

// ForegroundCeiling is the default synchronous wait before a job is
// promoted to the background (spec §4.4's FOREGROUND_CEILING_MS).
const ForegroundCeiling = 15 * time.Second

// MaxSleepDuration caps the sleep tool's requested duration.
const MaxSleepDuration = 295 * time.Second

// ContentItem is one item of a ToolResponse's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResponse is the response shape surfaced to every caller.
type ToolResponse struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

func textResponse(isError bool, text string) ToolResponse {
	return ToolResponse{Content: []ContentItem{{Type: "text", Text: text}}, IsError: isError}
}

// validationError builds the §7.1 "validation error" taxonomy class: no
// task is ever created for it.
func validationError(msg string) ToolResponse {
	return textResponse(true, fmt.Errorf("%w: %s", ErrValidation, msg).Error())
}

// ExecutePayload is the execute tool's request shape.
type ExecutePayload struct {
	WorkingDirectory string
	Code             string
	Language         string
	RunInBackground  bool
}

// ShellPayload is the bash tool's request shape. Commands is either a
// single command or several, joined with " && " before dispatch.
type ShellPayload struct {
	WorkingDirectory string
	Commands         []string
	Language         string
	RunInBackground  bool
}

// Executor ties a Pool and a Store together behind the public tool surface.
type Executor struct {
	pool  *pool.Pool
	store *taskstore.Store
}

// New builds an Executor over an already-running Pool and Store.
func New(p *pool.Pool, store *taskstore.Store) *Executor {
	return &Executor{pool: p, store: store}
}

// Execute implements the `execute` tool.
func (e *Executor) Execute(payload ExecutePayload) ToolResponse {
	if strings.TrimSpace(payload.Code) == "" {
		return validationError("code must not be empty")
	}
	if strings.TrimSpace(payload.WorkingDirectory) == "" {
		return validationError("workingDirectory must not be empty")
	}
	lang := runner.NormalizeExecuteLanguage(payload.Language)
	return e.run(payload.Code, lang, payload.WorkingDirectory, payload.RunInBackground)
}

// ExecuteShell implements the `bash` tool. The tool's own non-Windows-only
// availability gating is the request dispatcher's concern, not this
// module's; here the shell language is always forced to the OS shell.
func (e *Executor) ExecuteShell(payload ShellPayload) ToolResponse {
	if len(payload.Commands) == 0 {
		return validationError("commands must not be empty")
	}
	if strings.TrimSpace(payload.WorkingDirectory) == "" {
		return validationError("workingDirectory must not be empty")
	}
	source := strings.Join(payload.Commands, " && ")
	if strings.TrimSpace(source) == "" {
		return validationError("commands must not be empty")
	}
	lang := runner.ShellLanguageForOS()
	return e.run(source, lang, payload.WorkingDirectory, payload.RunInBackground)
}

func (e *Executor) run(source string, lang runner.Language, workingDir string, background bool) ToolResponse {
	req := runner.Request{Source: source, Language: lang, WorkingDir: workingDir}

	ceiling := ForegroundCeiling
	if background {
		ceiling = 0
	}

	taskID, result, promoted, err := e.pool.Execute(req, ceiling)
	if err != nil {
		return textResponse(true, err.Error())
	}

	if promoted {
		return textResponse(false, taskHandleText(taskID))
	}

	// Synchronous path: the id never surfaces to the caller, so the task
	// record is released immediately (§4.4).
	e.store.DeleteTask(taskID)
	return formatResult(result)
}

func taskHandleText(taskID int64) string {
	return fmt.Sprintf("Process backgrounded (ID: task_%d). Check status with process_status tool or resource task://%d", taskID, taskID)
}

func formatResult(res *runner.Result) ToolResponse {
	if res == nil {
		return textResponse(true, "no result available")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d | %dms | stdout: %dB stderr: %dB\n",
		res.ExitCode, res.ExecutionTimeMs, len(res.Stdout), len(res.Stderr))
	if res.Stdout != "" {
		b.WriteString("[STDOUT]\n")
		b.WriteString(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if res.Stderr != "" {
		b.WriteString("[STDERR]\n")
		b.WriteString(res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			b.WriteString("\n")
		}
	}
	if res.Error != "" {
		b.WriteString(res.Error)
		b.WriteString("\n")
	}
	return textResponse(!res.Success, b.String())
}

// GetTask implements the `process_status` tool.
func (e *Executor) GetTask(taskID int64) ToolResponse {
	task, ok := e.store.GetTask(taskID)
	if !ok {
		return textResponse(true, fmt.Sprintf("task_%d not found", taskID))
	}
	return textResponse(false, formatTaskSnapshot(task))
}

func formatTaskSnapshot(t taskstore.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task_%d: %s\n", t.ID, t.Status)
	fmt.Fprintf(&b, "language: %s\n", t.Language)
	fmt.Fprintf(&b, "created_at: %d\n", t.CreatedAt)
	if t.StartedAt != nil {
		fmt.Fprintf(&b, "started_at: %d\n", *t.StartedAt)
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(&b, "completed_at: %d\n", *t.CompletedAt)
	}
	if t.Result != nil {
		fmt.Fprintf(&b, "exit_code: %d\n", t.Result.ExitCode)
		fmt.Fprintf(&b, "success: %t\n", t.Result.Success)
		if t.Result.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", t.Result.Error)
		}
	}
	return b.String()
}

// ReadAndClearTaskOutput drains and formats a task's buffered live output.
func (e *Executor) ReadAndClearTaskOutput(taskID int64) ToolResponse {
	chunks, err := e.store.ReadAndClearOutput(taskID)
	if err != nil {
		return textResponse(true, fmt.Sprintf("task_%d not found", taskID))
	}
	var stdout, stderr strings.Builder
	for _, c := range chunks {
		if c.S == "stderr" {
			stderr.WriteString(c.D)
		} else {
			stdout.WriteString(c.D)
		}
	}
	var b strings.Builder
	if stdout.Len() > 0 {
		b.WriteString("[STDOUT]\n")
		b.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		b.WriteString("[STDERR]\n")
		b.WriteString(stderr.String())
	}
	return textResponse(false, b.String())
}

// CloseTask implements the `process_close` tool: it cancels the task if
// still running and releases its record.
func (e *Executor) CloseTask(taskID int64) ToolResponse {
	e.pool.CloseTask(taskID)
	e.store.DeleteTask(taskID)
	return textResponse(false, fmt.Sprintf("task_%d closed", taskID))
}

// Sleep implements the `sleep` tool, capped at MaxSleepDuration.
func (e *Executor) Sleep(d time.Duration) ToolResponse {
	if d > MaxSleepDuration {
		d = MaxSleepDuration
	}
	if d < 0 {
		d = 0
	}
	time.Sleep(d)
	return textResponse(false, fmt.Sprintf("Slept %dms", d.Milliseconds()))
}

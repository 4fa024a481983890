package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/events"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/taskstore"
)

type acceptedTask struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func newGenerateCmd() *cobra.Command {
	var (
		docs        []string
		assumptions []string
		context     string
		queueName   string
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "generate <project-id>",
		Short: "Generate artifacts for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]
			if len(docs) == 0 {
				return fmt.Errorf("at least one --doc is required")
			}

			body := map[string]interface{}{
				"documents":          docs,
				"assumptions":        parseAssumptions(assumptions),
				"additional_context": context,
				"queue":              queueName,
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			sp.Suffix = " submitting generation task"
			sp.Start()
			var accepted acceptedTask
			err := newClient().post("/api/projects/"+projectID+"/generate", body, &accepted)
			sp.Stop()
			if err != nil {
				return err
			}
			color.Green("Task %s queued on %s", accepted.TaskID, accepted.Queue)

			if !watch {
				return nil
			}
			return watchTask(projectID, accepted.TaskID)
		},
	}
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "Document type to generate (repeatable)")
	cmd.Flags().StringSliceVar(&assumptions, "assumption", nil, "Assumption as id=text (repeatable)")
	cmd.Flags().StringVar(&context, "context", "", "Additional direction for the agents")
	cmd.Flags().StringVar(&queueName, "queue", "", "Queue override: high, batch, or quality")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stream progress until the task finishes")
	return cmd
}

func parseAssumptions(raw []string) []map[string]string {
	out := make([]map[string]string, 0, len(raw))
	for i, r := range raw {
		id, text, found := strings.Cut(r, "=")
		if !found {
			id, text = fmt.Sprintf("a%d", i+1), r
		}
		out = append(out, map[string]string{"id": id, "text": text})
	}
	return out
}

// watchTask streams server-sent progress events for the task, then
// reconciles against the durable record.
func watchTask(projectID, taskID string) error {
	resp, err := http.Get(apiBase + "/api/projects/" + projectID + "/events")
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("generating"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		if ev.TaskID != taskID {
			continue
		}
		_ = bar.Set(int(ev.Progress * 100))
		if ev.Message != "" {
			bar.Describe(ev.Message)
		}
		if ev.EventType == events.EventCompleted || ev.EventType == events.EventError {
			break
		}
	}
	_ = bar.Finish()

	var rec taskstore.Record
	if err := newClient().get("/api/tasks/"+taskID, &rec); err != nil {
		return err
	}
	fmt.Printf("Task %s: %s\n", rec.ID, statusColor(string(rec.Status)))
	if rec.Error != "" {
		color.Red(rec.Error)
	}
	return nil
}

func newBatchCmd() *cobra.Command {
	var docs []string
	cmd := &cobra.Command{
		Use:   "batch <project-id>...",
		Short: "Generate the same artifacts across several projects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(docs) == 0 {
				return fmt.Errorf("at least one --doc is required")
			}

			client := newClient()
			tasks := make(map[string]string, len(args)) // task ID -> project ID
			for _, projectID := range args {
				var accepted acceptedTask
				err := client.post("/api/projects/"+projectID+"/generate", map[string]interface{}{
					"documents": docs,
					"queue":     "batch",
				}, &accepted)
				if err != nil {
					return fmt.Errorf("project %s: %w", projectID, err)
				}
				tasks[accepted.TaskID] = projectID
			}

			return watchBatch(client, tasks)
		},
	}
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "Document type to generate (repeatable)")
	return cmd
}

// watchBatch polls the durable task records and renders one bar per task.
func watchBatch(client *apiClient, tasks map[string]string) error {
	p := mpb.New(mpb.WithWidth(48))
	bars := make(map[string]*mpb.Bar, len(tasks))
	for taskID, projectID := range tasks {
		bars[taskID] = p.AddBar(100,
			mpb.PrependDecorators(
				decor.Name(projectID, decor.WCSyncSpaceR),
				decor.Percentage(decor.WCSyncSpace),
			),
		)
	}

	failed := map[string]string{}
	for len(bars) > 0 {
		time.Sleep(500 * time.Millisecond)
		for taskID, bar := range bars {
			var rec taskstore.Record
			if err := client.get("/api/tasks/"+taskID, &rec); err != nil {
				continue
			}
			bar.SetCurrent(int64(rec.Progress * 100))
			switch rec.Status {
			case taskstore.StatusCompleted, taskstore.StatusPartialFailure,
				taskstore.StatusFailed, taskstore.StatusCancelled:
				if rec.Status != taskstore.StatusCompleted {
					failed[taskID] = string(rec.Status)
				}
				bar.SetCurrent(100)
				delete(bars, taskID)
			}
		}
	}
	p.Wait()

	if len(failed) > 0 {
		for taskID, status := range failed {
			color.Red("task %s finished %s", taskID, status)
		}
		return fmt.Errorf("%d of %d tasks did not complete", len(failed), len(tasks))
	}
	color.Green("All %d tasks completed", len(tasks))
	return nil
}

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and cancel generation tasks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <task-id>",
			Short: "Show a task record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var rec taskstore.Record
				if err := newClient().get("/api/tasks/"+args[0], &rec); err != nil {
					return err
				}
				return printJSON(rec)
			},
		},
		&cobra.Command{
			Use:   "cancel <task-id>",
			Short: "Cancel a running task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var out map[string]string
				if err := newClient().post("/api/tasks/"+args[0]+"/cancel", nil, &out); err != nil {
					return err
				}
				color.Yellow("Task %s is cancelling", args[0])
				return nil
			},
		},
	)
	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/prodcal/internal/dates"
	"github.com/mschirtzinger/prodcal/internal/task"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Add and list calendar tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task to a day",
	Long: `Add a task to the calendar. Dates are natural language:

  pcal task add --date today --kind checkin
  pcal task add --date "next friday" --kind reflection
  pcal task add "Call the dentist" --date tomorrow
  pcal task add "Ship release" --date 2024-03-08 --step "tag" --step "announce"

Without --kind, a custom task is created from the given title.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dateText, _ := cmd.Flags().GetString("date")
		kindText, _ := cmd.Flags().GetString("kind")
		steps, _ := cmd.Flags().GetStringArray("step")

		now := time.Now()
		day, err := parseNaturalDate(dateText, now)
		if err != nil {
			return err
		}
		key := dates.DateKey(day)

		var kind task.Kind
		switch kindText {
		case "":
			kind = task.KindCustom
		case "planning", "reflection", "checkin", "custom":
			kind = task.Kind(kindText)
		default:
			return fmt.Errorf("unknown kind %q (want planning, reflection, checkin, or custom)", kindText)
		}
		if kind == task.KindCustom && len(args) == 0 {
			return fmt.Errorf("a custom task needs a title")
		}

		t := task.New(kind, key, now)
		if len(args) == 1 {
			if kind != task.KindCustom {
				return fmt.Errorf("recurring tasks use their template title; drop the title argument")
			}
			t.Title = args[0]
		}
		for i, desc := range steps {
			if i < len(t.Steps) {
				t.Steps[i].Description = desc
			} else {
				t.Steps = append(t.Steps, task.Step{
					ID:          task.StepID(t.ID, len(t.Steps)+1),
					Description: desc,
					Status:      task.StepPending,
				})
			}
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		o, err := buildOrchestrator(cfg, s, log.New(io.Discard, "", 0), nil)
		if err != nil {
			return err
		}
		ctx := context.Background()
		ds, err := o.LoadData(ctx)
		if err != nil {
			return err
		}
		ds.Add(key, t)
		if err := o.SaveData(ctx, ds); err != nil {
			return err
		}

		fmt.Printf("Added %q to %s\n", t.Title, day.Format("Mon Jan 2"))
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show a week of tasks",
	Long: `Show the week containing the given date (default: this week).

  pcal task list
  pcal task list --week "next monday"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		weekText, _ := cmd.Flags().GetString("week")

		anchor, err := parseNaturalDate(weekText, time.Now())
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		o, err := buildOrchestrator(cfg, s, log.New(io.Discard, "", 0), nil)
		if err != nil {
			return err
		}
		ds, err := o.LoadData(context.Background())
		if err != nil {
			return err
		}

		fmt.Fprint(os.Stdout, stylesFor(cfg).RenderWeek(ds, anchor))
		return nil
	},
}

var taskSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the recurring tasks for a week",
	Long: `Create the standard recurring tasks for the week containing the
given date: Weekly Planning on Sunday, Daily Check-in Monday through
Thursday, Friday Reflection on Friday. Days that already have a recurring
task of that title are left alone (the merge keeps the existing one).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		weekText, _ := cmd.Flags().GetString("week")

		now := time.Now()
		anchor, err := parseNaturalDate(weekText, now)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		o, err := buildOrchestrator(cfg, s, log.New(io.Discard, "", 0), nil)
		if err != nil {
			return err
		}
		ctx := context.Background()
		ds, err := o.LoadData(ctx)
		if err != nil {
			return err
		}

		seeded := 0
		for key, tasks := range task.SeedWeek(anchor, now) {
			for _, t := range tasks {
				if hasRecurringTitle(ds.Days[key], t.Title) {
					continue
				}
				ds.Add(key, t)
				seeded++
			}
		}
		if seeded == 0 {
			fmt.Println("Week already seeded")
			return nil
		}
		if err := o.SaveData(ctx, ds); err != nil {
			return err
		}
		fmt.Printf("Seeded %d recurring tasks for the week of %s\n",
			seeded, dates.DisplayWeekStart(anchor).Format("Jan 2"))
		return nil
	},
}

func hasRecurringTitle(bucket []*task.Task, title string) bool {
	for _, t := range bucket {
		if t.Title == title {
			return true
		}
	}
	return false
}

func init() {
	taskAddCmd.Flags().String("date", "today", "Day for the task (natural language accepted)")
	taskAddCmd.Flags().String("kind", "", "Task kind: planning, reflection, checkin, or custom")
	taskAddCmd.Flags().StringArray("step", nil, "Step description (repeatable, custom tasks)")
	taskListCmd.Flags().String("week", "today", "A date inside the week to show")
	taskSeedCmd.Flags().String("week", "today", "A date inside the week to seed")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskSeedCmd)
	rootCmd.AddCommand(taskCmd)
}

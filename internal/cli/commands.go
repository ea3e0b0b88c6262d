package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/ashureev/focus-labs/internal/bus"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/health"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tracking session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		st, err := newClient().Status(ctx)
		if err != nil {
			return err
		}
		cmd.Print(renderStatus(st))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start sampling attention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := newClient().StartSampling(ctx); err != nil {
			return err
		}
		cmd.Println("sampling started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop sampling attention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := newClient().StopSampling(ctx); err != nil {
			return err
		}
		cmd.Println("sampling stopped")
		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <task-id>",
	Short: "Make a task the active task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := newClient().SelectTask(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("tracking %s\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deselect the active task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := newClient().ClearTask(ctx); err != nil {
			return err
		}
		cmd.Println("no active task")
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:       "connect <simulated|bluetooth|bridge>",
	Short:     "Connect a signal source and make it active",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(domain.SourceSimulated), string(domain.SourceBluetooth), string(domain.SourceBridge)},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := domain.SourceKind(args[0])
		if !kind.Valid() {
			return fmt.Errorf("unknown source %q", args[0])
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := newClient().Connect(ctx, kind); err != nil {
			return err
		}
		cmd.Printf("connected to %s\n", kind.DisplayName())
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the active source and fall back to simulated",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := newClient().Disconnect(ctx); err != nil {
			return err
		}
		cmd.Println("using simulated source")
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		tasks, err := newClient().Tasks(ctx)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			cmd.Println("no tasks")
			return nil
		}
		for _, t := range tasks {
			cmd.Println(renderTask(t))
		}
		return nil
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		t, err := newClient().AddTask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		cmd.Println(t.ID)
		return nil
	},
}

var taskSetCmd = &cobra.Command{
	Use:       "set <task-id> <todo|doing|done>",
	Short:     "Move a task to a new state",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(domain.TaskStateTodo), string(domain.TaskStateDoing), string(domain.TaskStateDone)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		t, err := newClient().SetTaskState(ctx, args[0], domain.TaskState(args[1]))
		if err != nil {
			return err
		}
		cmd.Println(renderTask(t))
		return nil
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := newClient().DeleteTask(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("deleted %s\n", args[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream readings and alerts until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return newClient().Watch(ctx, func(e bus.Event) error {
			if line := renderEvent(e); line != "" {
				cmd.Println(line)
			}
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the gRPC health endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		statuses, err := health.Check(ctx, resolvedHealthAddr(),
			health.ServiceOverall, health.ServiceSampling, health.ServiceBluetooth, health.ServiceBridge)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			shown := name
			if shown == "" {
				shown = "(overall)"
			}
			state := colored(domain.BadgeAlert.Hex(), "NOT_SERVING")
			if statuses[name] {
				state = colored(domain.BadgeGood.Hex(), "SERVING")
			}
			cmd.Printf("%-24s %s\n", shown, state)
		}
		if !statuses[health.ServiceOverall] {
			return errors.New("focusd is not serving")
		}
		return nil
	},
}

func renderEvent(e bus.Event) string {
	ts := e.Time.Local().Format("15:04:05")
	switch e.Type {
	case bus.EventReadingUpdated:
		if e.Reading == nil {
			return ""
		}
		task := ""
		if e.TaskID != "" {
			task = " " + label("task="+e.TaskID)
		}
		return fmt.Sprintf("%s %s %s%s", ts, label(string(e.Reading.Source)), renderScore(*e.Reading), task)
	case bus.EventConnectionStatusChanged:
		if e.Connection == nil {
			return ""
		}
		state := "disconnected"
		if e.Connection.Connected {
			state = "connected"
		}
		return fmt.Sprintf("%s %s %s", ts, e.Connection.Source.DisplayName(), state)
	case bus.EventDistractionAlert:
		if e.Alert == nil {
			return ""
		}
		return fmt.Sprintf("%s %s %s", ts, colored(domain.BadgeAlert.Hex(), e.Alert.Title), e.Alert.Body)
	default:
		return ""
	}
}

func init() {
	tasksCmd.AddCommand(taskAddCmd, taskSetCmd, taskRmCmd)
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, selectCmd, clearCmd,
		connectCmd, disconnectCmd, tasksCmd, watchCmd, healthCmd)
}

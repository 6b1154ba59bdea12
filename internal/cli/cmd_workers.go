package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-forged/internal/orcmodel"
)

func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Configure and control the worker pool",
	}
	cmd.AddCommand(newWorkersConfigureCmd())
	cmd.AddCommand(newWorkersStartCmd())
	cmd.AddCommand(newWorkersStopCmd())
	return cmd
}

func newWorkersConfigureCmd() *cobra.Command {
	var workerSpec []string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Declare desired worker counts per role",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := worktreeRoot()
			if err != nil {
				return err
			}
			id := worktreeIDFor(root)
			a, err := newApp(root, id)
			if err != nil {
				return err
			}
			configs, err := parseWorkerSpec(workerSpec)
			if err != nil {
				return err
			}
			if err := a.gateway.ConfigureWorkers(runContext(), configs); err != nil {
				return err
			}
			fmt.Println(styleSuccess.Render("✓") + " worker configuration applied")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&workerSpec, "workers", nil, "role=count pairs, e.g. implementer=2,tester=1")
	return cmd
}

func newWorkersStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Spawn any missing workers up to the configured count",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := worktreeRoot()
			if err != nil {
				return err
			}
			id := worktreeIDFor(root)
			a, err := newApp(root, id)
			if err != nil {
				return err
			}
			if err := a.gateway.StartWorkers(runContext(), nil); err != nil {
				return err
			}
			fmt.Println(styleSuccess.Render("✓") + " workers started")
			return nil
		},
	}
}

func newWorkersStopCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Cancel and remove workers (all roles, or those given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := worktreeRoot()
			if err != nil {
				return err
			}
			id := worktreeIDFor(root)
			a, err := newApp(root, id)
			if err != nil {
				return err
			}
			var taskRoles []orcmodel.TaskRole
			for _, r := range roles {
				taskRoles = append(taskRoles, orcmodel.TaskRole(r))
			}
			if err := a.gateway.StopWorkers(runContext(), taskRoles); err != nil {
				return err
			}
			fmt.Println(styleSuccess.Render("✓") + " workers stopped")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "limit to these roles (default: all)")
	return cmd
}

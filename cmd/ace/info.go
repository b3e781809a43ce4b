package main

import (
	"fmt"
	"runtime"

	"github.com/SystemsGenetics/ACE-sub002/internal/engine"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/hostinfo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List analytics and data kinds",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Analytics:")
			for _, info := range a.analytics.List() {
				fmt.Fprintf(out, "  %-24s %s\n", info.Name, info.Description)
				for _, in := range info.Inputs {
					fmt.Fprintf(out, "      --%-16s %s\n", in.Name, usage(in))
				}
			}
			fmt.Fprintln(out, "\nData kinds:")
			for _, k := range a.kinds.List() {
				fmt.Fprintf(out, "  %-6d %-16s .%s\n", k.ID, k.Name, k.Extension)
			}
		},
	}
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show what this host offers to a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(hostinfo.Collect(cmd.Context()))
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode host info")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ace %s\n", engine.Version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

package main

import (
	"fmt"

	"github.com/SystemsGenetics/ACE-sub002/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) settingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.cfg.Settings()
			if err != nil {
				return err
			}
			for _, s := range settings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", s.Key, s.Value)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting and save the settings file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := a.cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(a.configPath, a.cfg); err != nil {
				return err
			}
			a.log.Info("setting saved", zap.String("key", args[0]), zap.String("path", a.configPath))
			return nil
		},
	})
	return cmd
}

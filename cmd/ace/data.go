package main

import (
	"os"

	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/metadata"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) dumpCommand() *cobra.Command {
	var (
		format string
		system bool
	)
	cmd := &cobra.Command{
		Use:   "dump <path>",
		Short: "Print the metadata of a data object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := data.OpenReadOnly(args[0], a.kinds, a.dataLog())
			if err != nil {
				return err
			}
			defer obj.Close()

			tree := obj.UserMeta()
			if system {
				tree = obj.SystemMeta()
			}
			var out []byte
			switch format {
			case "json":
				out, err = metadata.DumpJSON(tree)
			case "yaml":
				out, err = metadata.DumpYAML(tree)
			default:
				return errors.Newf(errors.ErrorTypeInvalidArgument, "unknown format %q, want json or yaml", format).
					WithDetail("field", "format")
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, yaml)")
	cmd.Flags().BoolVar(&system, "system", false, "Print the system metadata instead of the user metadata")
	return cmd
}

func (a *app) injectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inject <path> <json-file>",
		Short: "Add the keys of a JSON object to the user metadata of a data object",
		Long: `Add the top-level keys of the JSON object in <json-file> to the user
metadata of the data object at <path>. Keys that already exist are an error
and leave the object unchanged.

Object keys, including those of nested objects, are stored in sorted order
rather than the order they appear in <json-file>.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[1])
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "failed to read JSON document").WithDetail("path", args[1])
			}
			obj, err := data.Open(args[0], a.kinds, a.dataLog())
			if err != nil {
				return err
			}
			defer obj.Close()
			if obj.IsNew() {
				return errors.Newf(errors.ErrorTypeIO, "data object %s does not exist", args[0]).WithDetail("path", args[0])
			}

			user := obj.UserMeta().Clone()
			if err := metadata.Inject(user, doc); err != nil {
				return errors.Wrapf(err, errors.TypeOf(err), "failed to inject %s", args[1]).WithDetail("path", args[0])
			}
			if err := obj.SetUserMeta(user); err != nil {
				return err
			}
			if err := obj.Flush(); err != nil {
				return err
			}
			a.log.Info("metadata injected", zap.String("path", args[0]), zap.Int("keys", user.Len()))
			return nil
		},
	}
}

func (a *app) dataLog() *zap.Logger {
	return a.log.Named("data")
}

package commands

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncobase/msst/oss"
	"github.com/spf13/cobra"
)

func newStorageCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "storage",
		Aliases: []string{"s"},
		Args:    cobra.NoArgs,
		Short:   "Object storage commands",
		Long:    `Move audio in and out of the configured object store.`,
	}

	cmd.AddCommand(
		newUploadCommand(a),
		newFetchCommand(a),
		newGetCommand(a),
		newStatCommand(a),
		newPresignCommand(a),
		newListCommand(a),
		newDeleteCommand(a),
	)
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var key, prefix string
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			if key == "" {
				if key, err = oss.GenerateKey(prefix, filepath.Base(args[0])); err != nil {
					return err
				}
			}
			ref, err := gw.UploadFile(cmd.Context(), args[0], key, oss.PutOptions{})
			if err != nil {
				return err
			}
			return printJSON(cmd, ref)
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "object key (default: <prefix>/<random>_<file name>)")
	cmd.Flags().StringVar(&prefix, "prefix", "uploads", "key prefix for generated keys")
	return cmd
}

func newFetchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch URL KEY",
		Short: "Store the content of a remote URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := gw.UploadFromURL(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, ref)
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download KEY [DEST]",
		Short: "Download an object to a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			dest := path.Base(args[0])
			if len(args) == 2 {
				dest = args[1]
			}
			ref, err := gw.Download(cmd.Context(), args[0], dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\n", dest, ref.Size)
			return nil
		},
	}
}

func newStatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat KEY",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := gw.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, ref)
		},
	}
}

func newPresignCommand(a *app) *cobra.Command {
	var method string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "presign KEY",
		Short: "Sign a time limited URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			var m oss.Method
			switch strings.ToUpper(method) {
			case "GET":
				m = oss.MethodGet
			case "PUT":
				m = oss.MethodPut
			default:
				return fmt.Errorf("unsupported method %q, use get or put", method)
			}
			p, err := gw.Presign(cmd.Context(), args[0], m, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "get", "HTTP method the URL grants: get or put")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime, at most 168h (default: storage.presign_ttl)")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [PREFIX]",
		Short: "List objects under a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			n := 0
			for ref, err := range gw.List(cmd.Context(), prefix) {
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", ref.Key, ref.Size, ref.LastModified.Format(time.RFC3339))
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many objects (0: all)")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY...",
		Short: "Delete objects; missing keys are not an error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.storage(cmd.Context())
			if err != nil {
				return err
			}
			for _, key := range args {
				if err := gw.Delete(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
			}
			return nil
		},
	}
}

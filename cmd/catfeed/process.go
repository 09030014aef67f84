package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/spf13/cobra"
)

func newProcessCmd(root *rootOptions) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "process [params.json]",
		Short: "Process one batch from a file (or stdin) and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			processor, err := newProcessor(cfg, logger)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open params file: %w", err)
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read params: %w", err)
			}

			params, err := catfeed.DecodeParams(data)
			if err != nil {
				return err
			}
			result, err := processor.Process(params)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(result)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON result")
	return cmd
}

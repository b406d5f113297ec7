package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andreyvit/localbase"
)

var uploadContentType string

var uploadCmd = &cobra.Command{
	Use:   "upload BUCKET PATH FILE",
	Short: "Upload a file (use - for stdin); the bytes are discarded",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[2] != "-" {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return withClient(cmd, func(c *localbase.Client) error {
			b := c.Storage.From(args[0])
			res, err := b.Upload(args[1], r, localbase.UploadOptions{ContentType: uploadContentType})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.GetPublicURL(res.Path))
			return nil
		})
	},
}

var publicURLCmd = &cobra.Command{
	Use:   "public-url BUCKET PATH",
	Short: "Print the public URL of an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.Storage.From(args[0]).GetPublicURL(args[1]))
			return nil
		})
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadContentType, "content-type", "", "Content type to record")
}

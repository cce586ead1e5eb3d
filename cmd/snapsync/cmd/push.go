package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/snapsync/internal/remote"
)

var pushCmd = &cobra.Command{
	Use:   "push <dir> <ref>",
	Short: "Pack a directory and publish it to an OCI registry",
	Long:  "Encode a directory as a solution snapshot and publish it to the given image ref (e.g., \"ttl.sh/team/solution:main\").",
	Args:  cobra.ExactArgs(2),
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	dir, ref := args[0], args[1]

	src, root, err := packDir(dir)
	if err != nil {
		return err
	}

	reg, err := remote.NewRegistry(ref, nil)
	if err != nil {
		return err
	}
	reg.SetConcurrency(getConcurrency())

	fmt.Fprintf(os.Stderr, "Publishing %s...\n", ref)

	if err := reg.Publish(context.Background(), root, src.Objects()); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	fmt.Println(root)
	return nil
}

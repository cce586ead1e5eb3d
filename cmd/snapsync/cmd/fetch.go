package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/snapsync"
	"github.com/aweris/snapsync/internal/remote"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <ref>",
	Short: "Fetch a snapshot from an OCI registry",
	Long:  "Materialize the snapshot published at the given image ref and print its tree.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) (err error) {
	ctx := context.Background()

	source, err := remote.NewSource(args[0], nil)
	if err != nil {
		return err
	}
	source.SetConcurrency(getConcurrency())

	root, err := source.Root(ctx)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	svc, err := snapsync.New(source,
		snapsync.WithConcurrency(getConcurrency()),
		snapsync.WithCompression(getCompression()),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ws, err := svc.GetSnapshot(ctx, root, nil)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Done. Root: %s\n", ws.RootChecksum())

	printWorkspace(ws)
	return nil
}

func printWorkspace(ws *snapsync.Workspace) {
	fmt.Printf("%s  %s\n", ws.RootChecksum().Short(), ws.Root().Name())
	for _, project := range ws.Projects() {
		fmt.Printf("  %s  %s/\n", project.Checksum().Short(), project.Name())
		for _, doc := range project.Children() {
			fmt.Printf("    %s  %s (%d bytes)\n", doc.Checksum().Short(), doc.Name(), len(doc.Payload()))
		}
	}
	if opts := ws.Options(); len(opts) > 0 {
		fmt.Printf("  options: %d\n", len(opts))
	}
}

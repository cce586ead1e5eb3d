package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aweris/snapsync"
)

var packCmd = &cobra.Command{
	Use:   "pack <dir>",
	Short: "Pack a directory into a solution snapshot",
	Long: "Encode a directory as a solution snapshot and print its root checksum.\n" +
		"Each immediate subdirectory becomes a project; its files become documents.",
	Args: cobra.ExactArgs(1),
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, args []string) error {
	src, root, err := packDir(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "packed %d nodes\n", src.Len())
	fmt.Println(root)
	return nil
}

// packDir encodes a directory tree into an in-memory source: each immediate
// subdirectory is a project, each contained file a document (keyed by its
// path relative to the project).
func packDir(dir string) (*snapsync.MemorySource, snapsync.Checksum, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("read dir: %w", err)
	}

	builder := snapsync.NewSolution().SetName(filepath.Base(dir))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		project := builder.AddProject(entry.Name())
		projectDir := filepath.Join(dir, entry.Name())

		var files []string
		err := filepath.WalkDir(projectDir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, "", fmt.Errorf("walk %s: %w", projectDir, err)
		}
		sort.Strings(files)

		for _, path := range files {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, "", fmt.Errorf("read %s: %w", path, err)
			}
			rel, err := filepath.Rel(projectDir, path)
			if err != nil {
				return nil, "", err
			}
			project.AddDocument(filepath.ToSlash(rel), content)
		}
	}

	src := snapsync.NewMemorySource()
	root, err := builder.Build(src)
	if err != nil {
		return nil, "", fmt.Errorf("build solution: %w", err)
	}
	return src, root, nil
}

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/prodcal/internal/merge"
	"github.com/mschirtzinger/prodcal/internal/store"
	"github.com/mschirtzinger/prodcal/internal/task"
)

var dataCmd = &cobra.Command{
	Use:     "data",
	GroupID: "tasks",
	Short:   "Export and import the task dataset",
}

var dataExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the dataset to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.ExportFile(args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("nothing to export yet")
			}
			return err
		}
		fmt.Printf("Exported dataset to %s\n", args[0])
		return nil
	},
}

var dataImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a dataset JSON file, merging it with local data",
	Long: `Import a dataset file previously produced by export (or by another
device). By default the imported data is merged with the local dataset
using the same rules as remote sync: nothing local is lost, conflicting
versions of a task resolve toward the most complete one.

With --replace the local dataset is overwritten instead of merged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if replace {
			ds, err := s.ImportFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Replaced dataset from %s: %d tasks\n", args[0], ds.TaskCount())
			return nil
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		imported, err := task.Decode(raw, time.Now())
		if err != nil {
			return fmt.Errorf("decode import file: %w", err)
		}

		current, err := s.LoadDataset()
		if errors.Is(err, store.ErrNotFound) {
			current = nil
		} else if err != nil {
			return err
		}

		merger := merge.New(log.New(io.Discard, "", 0))
		merged, info := merger.Datasets(current, imported)
		if err := s.SaveDataset(merged); err != nil {
			return err
		}
		fmt.Printf("Imported %s: %d tasks in, %d after merge (%d added, %d updated)\n",
			args[0], info.RemoteTaskCount, info.FinalTaskCount, info.TasksAdded, info.TasksUpdated)
		return nil
	},
}

func init() {
	dataImportCmd.Flags().Bool("replace", false, "Overwrite local data instead of merging")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataImportCmd)
	rootCmd.AddCommand(dataCmd)
}

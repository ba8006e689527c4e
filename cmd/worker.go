/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/gamereview/apiserver/internal/events"
	"github.com/gamereview/apiserver/internal/mq"
	"github.com/gamereview/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

// workerCmd consumes review events and archives them to object storage.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Archives review events to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		bus, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if bus == nil {
			return errors.New("worker requires MQ_BACKEND")
		}
		defer bus.Close()

		objects, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		if objects == nil {
			return errors.New("worker requires STORAGE_BACKEND")
		}

		err = events.NewArchiver(bus, objects, logger).Run(ctx)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("archiver stopped: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

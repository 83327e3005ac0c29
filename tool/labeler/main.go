/*
 * Labeler
 * Copyright (C) 2026  Skyware
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command labeler runs the atproto labeler service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/spf13/cobra"

	"github.com/skyware-js/labeler"
	"github.com/skyware-js/labeler/lib/config"
	"github.com/skyware-js/labeler/lib/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "labeler",
		Short:         "atproto labeler service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the labeler service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onStart(cmd.Context(), configPath)
		},
	}
	start.Flags().StringVarP(&configPath, "config", "c", "labeler.yaml", "path to the config file")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "labeler", "v"+labeler.Version)
		},
	}

	root.AddCommand(start, version)
	return root
}

func onStart(ctx context.Context, configPath string) error {
	fc, err := config.ReadFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, fc)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(svc.Run(ctx))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the chatterm command line: the urfave/cli
// application, the line-mode chat shell and the wiring that connects
// configuration, logging, storage and the provider client to the
// conversation controller.
//
// # Key Types
//
//   - Runtime: the controller and store for one run, built from config
//   - Shell: line-mode chat with slash commands on top of the controller
//   - ChatCLI: liner-backed input with a persistent history file
//
// # Usage
//
//	app := cli.NewApp()
//	if err := app.Run(os.Args); err != nil {
//	    fmt.Fprintf(os.Stderr, "Error: %s\n", err)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// With no command chatterm opens the full screen view when stdin and
// stdout are terminals, and line mode otherwise, so
//
//	echo "What is a channel?" | chatterm
//
// prints a single reply.
package cli

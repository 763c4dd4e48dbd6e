/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/blnkfinance/eventledger"
	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/database"
	"github.com/blnkfinance/eventledger/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// EventLedger wraps the root command of the CLI.
type EventLedger struct {
	cmd *cobra.Command
}

// ledgerInstance carries the runtime ledger and configuration into subcommands.
type ledgerInstance struct {
	ledger *eventledger.Ledger
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the ledger before any command runs.
func preRun(app *ledgerInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			logrus.Fatalf("error loading config: %v", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		app.cnf = cnf
		if !needsLedger(cmd) {
			return nil
		}

		ledger, err := setupLedger(cnf)
		if err != nil {
			notification.NotifyError(err)
			logrus.Fatal(err)
		}

		app.ledger = ledger
		return nil
	}
}

// needsLedger reports false for commands that must run without a reachable
// database, such as migrations against an empty one.
func needsLedger(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "migrate", "config":
			return false
		}
	}
	return true
}

func setupLedger(cfg *config.Configuration) (*eventledger.Ledger, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	ledger, err := eventledger.NewLedger(db)
	if err != nil {
		return nil, fmt.Errorf("error creating ledger: %v", err)
	}
	return ledger, nil
}

// NewCLI builds the root command and its subcommands.
func NewCLI() *EventLedger {
	var configFile string
	app := &ledgerInstance{}

	rootCmd := &cobra.Command{
		Use:   "eventledger",
		Short: "Event-sourced account ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./eventledger.json", "Configuration file for the ledger")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(replayCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &EventLedger{cmd: rootCmd}
}

func (e EventLedger) executeCLI() {
	if err := e.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

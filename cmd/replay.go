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
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// replayCommands re-dispatches one account's events from the command line.
func replayCommands(app *ledgerInstance) *cobra.Command {
	var since string
	var async bool

	cmd := &cobra.Command{
		Use:   "replay <account_id>",
		Short: "replay an account's unprocessed events into the read model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			accountID := args[0]

			var sinceTime time.Time
			if since != "" {
				parsed, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: %w", since, err)
				}
				sinceTime = parsed
			}

			if async {
				queued, err := app.ledger.EnqueueReplay(ctx, accountID, sinceTime)
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{"account_id": accountID, "queued": queued}).Info("replay submitted")
				return nil
			}

			result, err := app.ledger.Replay(ctx, accountID, sinceTime)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(result, "", "    ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only replay events after this RFC3339 time")
	cmd.Flags().BoolVar(&async, "async", false, "queue the replay for the workers instead of running it here")
	return cmd
}

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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const redacted = "********"

// configCommands prints the effective configuration with secrets masked.
func configCommands(app *ledgerInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the loaded configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := *app.cnf
			if cfg.Server.SecretKey != "" {
				cfg.Server.SecretKey = redacted
			}
			if cfg.TypeSense.ApiKey != "" {
				cfg.TypeSense.ApiKey = redacted
			}
			if cfg.Telemetry.PosthogKey != "" {
				cfg.Telemetry.PosthogKey = redacted
			}

			data, err := json.MarshalIndent(cfg, "", "    ")
			if err != nil {
				logrus.Fatalf("Error printing config: %v", err)
			}
			fmt.Println(string(data))
		},
	}
}

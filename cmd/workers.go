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
	"context"
	"fmt"
	"net/http"

	"github.com/blnkfinance/eventledger"
	"github.com/blnkfinance/eventledger/config"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues weights replays above maintenance sweeps and indexing.
func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.ReplayQueue:      3,
		conf.Queue.MaintenanceQueue: 2,
		conf.Queue.IndexQueue:       1,
	}
}

func initializeWorkerServer(opt asynq.RedisClientOpt, conf *config.Configuration) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithError(err).WithField("task", task.Type()).Error("task failed")
		}),
	})
}

// initializeScheduler registers the periodic maintenance sweeps.
func initializeScheduler(opt asynq.RedisClientOpt, conf *config.Configuration) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(opt, nil)
	for _, entry := range eventledger.PeriodicTasks(conf) {
		if entry.Cronspec == "" {
			continue
		}
		id, err := scheduler.Register(entry.Cronspec, entry.Task, entry.Opts...)
		if err != nil {
			return nil, fmt.Errorf("error scheduling %s: %w", entry.Task.Type(), err)
		}
		logrus.WithFields(logrus.Fields{"task": entry.Task.Type(), "cron": entry.Cronspec, "entry_id": id}).Info("scheduled task")
	}
	return scheduler, nil
}

func startMonitoring(opt asynq.RedisClientOpt, port string) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		addr := fmt.Sprintf(":%s", port)
		logrus.Infof("Asynqmon server listening on %s/monitoring", addr)
		if err := http.ListenAndServe(addr, h); err != nil {
			logrus.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands runs the task workers, the maintenance scheduler and the
// pending event recovery processor.
func workerCommands(app *ledgerInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "start ledger workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			conf := app.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				logrus.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					logrus.Errorf("Error during shutdown: %v", err)
				}
			}()
			if phClient != nil {
				defer phClient.Close()
			}

			opt, err := eventledger.RedisClientOpt(conf)
			if err != nil {
				logrus.Fatal(err)
			}

			srv := initializeWorkerServer(opt, conf)
			mux := asynq.NewServeMux()
			app.ledger.RegisterTaskHandlers(mux)

			scheduler, err := initializeScheduler(opt, conf)
			if err != nil {
				logrus.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				logrus.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			recovery := eventledger.NewPendingEventRecoveryProcessor(app.ledger)
			recovery.Start(ctx)
			defer recovery.Stop()

			startMonitoring(opt, conf.Queue.MonitoringPort)

			if err := srv.Run(mux); err != nil {
				logrus.Fatalf("could not run server: %v", err)
			}
		},
	}
}

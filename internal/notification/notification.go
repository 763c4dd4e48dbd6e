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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/eventledger/config"
	"github.com/blnkfinance/eventledger/internal/request"
	"github.com/blnkfinance/eventledger/model"
	"github.com/sirupsen/logrus"
)

// maxListedFailures caps the records spelled out in one stale failure alert.
const maxListedFailures = 10

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildMessage(title string, fields ...string) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
	}}}
	for _, f := range fields {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: f}},
		})
	}
	return msg
}

// SendSlack posts a message to the configured webhook. It is a no-op when no
// webhook is configured.
func SendSlack(ctx context.Context, title string, fields ...string) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	payload, err := request.ToJsonReq(buildMessage(title, fields...))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		return err
	}
	_, err = request.Call(req, nil)
	return err
}

// SlackNotification reports a system error to Slack.
func SlackNotification(err error) {
	sendErr := SendSlack(context.Background(), "Error From Event Ledger 🐞",
		fmt.Sprintf("*Error:*\n%v", err),
		fmt.Sprintf("*Time:*\n%v", time.Now().Format(time.RFC822)))
	if sendErr != nil {
		logrus.WithError(sendErr).Error("failed to send slack notification")
	}
}

// NotifyError logs the error and reports it to Slack in the background.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		SlackNotification(systemError)
	}(systemError)
}

// NotifyStaleFailures alerts operators about dispatch failures that have not
// been retried within the stale threshold.
func NotifyStaleFailures(ctx context.Context, records []model.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}

	var lines []string
	for i, r := range records {
		if i == maxListedFailures {
			lines = append(lines, fmt.Sprintf("…and %d more", len(records)-maxListedFailures))
			break
		}
		lines = append(lines, fmt.Sprintf("• event %d (%s) on %s: %s, %d retries",
			r.EventID, r.EventKind, r.EntityID, r.FailureReason, r.RetryCount))
	}

	return SendSlack(ctx, "Stale Event Failures ⏳",
		fmt.Sprintf("*Stale failures:*\n%d", len(records)),
		fmt.Sprintf("*Records:*\n%s", strings.Join(lines, "\n")),
		fmt.Sprintf("*Time:*\n%v", time.Now().Format(time.RFC822)))
}

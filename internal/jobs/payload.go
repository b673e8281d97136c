// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package jobs runs the scheduled pipeline work over a Watermill message
// router. Every job is triggered by a published message, processed with
// at-least-once semantics, retried with backoff, and routed to a poison
// topic when retries are exhausted.
package jobs

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Job topics. Schedules publish to the cycle topics; crawl.batch is
// fanned out by the crawl orchestrator itself.
const (
	TopicCrawlCycle     = "crawl.cycle"
	TopicCrawlBatch     = "crawl.batch"
	TopicTrainCycle     = "train.cycle"
	TopicDigestDispatch = "digest.dispatch"
)

// CrawlBatchPayload carries one dispatched batch of candidate URLs.
type CrawlBatchPayload struct {
	Source string   `json:"source"`
	URLs   []string `json:"urls"`
}

// DigestDispatchPayload optionally narrows a digest run to specific
// users. Empty means all registered users.
type DigestDispatchPayload struct {
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// newMessage wraps a payload in a Watermill message with a fresh UUID.
func newMessage(payload any) (*message.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return message.NewMessage(uuid.NewString(), body), nil
}

// decodePayload unpacks a job message body. Empty bodies decode to the
// zero payload so bare trigger messages stay valid.
func decodePayload[T any](msg *message.Message) (T, error) {
	var payload T
	if len(msg.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return payload, nil
}

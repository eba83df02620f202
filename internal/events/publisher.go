// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events publishes case-update events to a Redis list so other
// services can react to new court records without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lemon/casesync/internal/models"
)

// TypeCaseUpdated is the envelope type for new court records on a case.
const TypeCaseUpdated = "case.updated"

// Envelope is the JSON document pushed onto the queue.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// CaseUpdated describes the records added to a case by one sync.
type CaseUpdated struct {
	RunID      string              `json:"run_id"`
	CaseID     int64               `json:"case_id"`
	CaseNumber string              `json:"case_number"`
	Title      string              `json:"title"`
	History    []models.HistoryRow `json:"history"`
	Trials     []models.TrialRow   `json:"trials"`
}

// Publisher LPUSHes envelopes onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting queueName.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// PublishCaseUpdated wraps ev in an envelope and pushes it.
func (p *Publisher) PublishCaseUpdated(ctx context.Context, ev CaseUpdated) error {
	env, err := newEnvelope(TypeCaseUpdated, ev, time.Now().UTC())
	if err != nil {
		return err
	}

	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, msg).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published case update",
		"event_id", env.ID,
		"case_id", ev.CaseID,
		"queue", p.queueName,
	)
	return nil
}

func newEnvelope(typ string, payload any, at time.Time) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: at,
		Payload:    body,
	}, nil
}

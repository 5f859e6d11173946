// Package publisher appends cycle reports to a Redis stream so other
// services can react to fresh data without polling the view documents.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/models"
)

// DefaultStream is the stream key cycle reports are published to.
const DefaultStream = "steamwatch.cycles"

// RedisPublisher publishes cycle reports to a Redis stream
type RedisPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisPublisher creates a new stream publisher. A maxLen above zero
// trims the stream approximately to that many entries.
func NewRedisPublisher(client redis.Cmdable, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish appends one report to the stream and returns the entry ID.
func (p *RedisPublisher) Publish(ctx context.Context, report models.CycleReport) (string, error) {
	values, err := eventValues(report)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publishing cycle %s to %s: %w", report.ID, p.stream, err)
	}
	return id, nil
}

// ReportCycle publishes the report, logging instead of returning failures.
func (p *RedisPublisher) ReportCycle(ctx context.Context, report models.CycleReport) {
	id, err := p.Publish(ctx, report)
	if err != nil {
		logger.Warn("Failed to publish cycle report: %v", err)
		return
	}
	logger.Debug("Published cycle %s to %s as %s", report.ID, p.stream, id)
}

func eventValues(report models.CycleReport) (map[string]interface{}, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshaling cycle report: %w", err)
	}
	return map[string]interface{}{
		"data":          string(data),
		"cycle_id":      report.ID,
		"fetched":       report.Fetched,
		"watched":       report.Watched,
		"discounts":     report.Discounts,
		"total_players": report.TotalPlayers,
		"healthy":       strconv.FormatBool(report.Healthy()),
	}, nil
}

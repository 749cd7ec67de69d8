package ami

import (
	"context"
	"fmt"
)

// Ping sends a keep-alive. The PBX answers "Ping: Pong".
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.SendAction(ctx, "Ping")
	if err != nil {
		return err
	}
	if resp.Get("Ping") != "Pong" && !resp.IsSuccess() {
		return fmt.Errorf("ami: ping: unexpected response %q", resp.Get("Response"))
	}
	return nil
}

// QueueStatus requests QueueParams/QueueMember/QueueEntry events for one
// queue, or all queues when queue is empty.
func (c *Client) QueueStatus(ctx context.Context, queue string) error {
	return c.listAction(ctx, "QueueStatus", queue)
}

// QueueSummary requests QueueSummary events for one queue, or all queues.
func (c *Client) QueueSummary(ctx context.Context, queue string) error {
	return c.listAction(ctx, "QueueSummary", queue)
}

// listAction sends an action whose results arrive later as events.
func (c *Client) listAction(ctx context.Context, action, queue string) error {
	var fields []Field
	if queue != "" {
		fields = append(fields, Field{Key: "Queue", Value: queue})
	}
	resp, err := c.SendAction(ctx, action, fields...)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("ami: %s: %s", action, resp.Get("Message"))
	}
	return nil
}

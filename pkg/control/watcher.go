// Package control carries operator signals between pulsegate processes
// over Redis pub/sub.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"pulsegate/pkg/logging"
	"pulsegate/pkg/model"
)

// ActionFlush asks every running dispatcher to send a feature's buffer now.
const ActionFlush = "flush"

// Command is one control message. An empty Type means every feature.
type Command struct {
	Action string `json:"action"`
	Type   string `json:"type,omitempty"`
}

// Trigger is implemented by engine.Dispatcher.
type Trigger interface {
	Trigger(f model.Feature)
}

// Watcher subscribes to the control channel and forwards flush commands.
type Watcher struct {
	client  *redis.Client
	channel string
	target  Trigger
	log     *logrus.Entry
}

func NewWatcher(client *redis.Client, channel string, target Trigger, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		client:  client,
		channel: channel,
		target:  target,
		log:     logging.Component(log, "control").WithField("channel", channel),
	}
}

// Start blocks until ctx is cancelled. It fails only if the initial
// subscription cannot be confirmed.
func (w *Watcher) Start(ctx context.Context) error {
	pubsub := w.client.Subscribe(ctx, w.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", w.channel, err)
	}
	w.log.Info("Listening for control commands")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			w.handle(msg.Payload)
		}
	}
}

func (w *Watcher) handle(payload string) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		w.log.WithError(err).Warn("Invalid control message")
		return
	}
	switch cmd.Action {
	case ActionFlush:
		var f model.Feature
		if cmd.Type != "" {
			parsed, err := model.ParseFeature(cmd.Type)
			if err != nil {
				w.log.WithError(err).Warn("Flush for unknown feature ignored")
				return
			}
			f = parsed
		}
		w.log.WithField("feature", f).Info("Flush requested")
		w.target.Trigger(f)
	default:
		w.log.WithField("action", cmd.Action).Warn("Unknown control action")
	}
}

// Publish sends cmd and returns how many watchers received it.
func Publish(ctx context.Context, client *redis.Client, channel string, cmd Command) (int64, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return 0, err
	}
	n, err := client.Publish(ctx, channel, raw).Result()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", channel, err)
	}
	return n, nil
}

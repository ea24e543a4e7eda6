/*
 * Copyright 2018-present Open Networking Foundation

 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at

 * http://www.apache.org/licenses/LICENSE-2.0

 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package event

import (
	"context"
	"sync"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// DefaultSubscriberBuffer is the channel depth handed out by Subscribe
const DefaultSubscriberBuffer = 16

// Bus is an in-process publish/subscribe bus keyed by typed topics.
// Publish never blocks; a message for a subscriber whose channel is full
// is dropped and logged.
type Bus struct {
	lock sync.RWMutex
	subs map[Topic][]chan Message
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[Topic][]chan Message),
	}
}

// Subscribe registers interest in a topic and returns the delivery channel
func (b *Bus) Subscribe(topic Topic) <-chan Message {
	ch := make(chan Message, DefaultSubscriberBuffer)
	b.lock.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.lock.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.  Unsubscribing a
// channel that is not registered is a no-op.
func (b *Bus) Unsubscribe(topic Topic, ch <-chan Message) {
	b.lock.Lock()
	defer b.lock.Unlock()
	channels, ok := b.subs[topic]
	if !ok {
		return
	}
	for i, sub := range channels {
		if sub == ch {
			b.subs[topic] = append(channels[:i], channels[i+1:]...)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			close(sub)
			return
		}
	}
}

// Publish delivers the message to every subscriber of its topic
func (b *Bus) Publish(ctx context.Context, msg Message) {
	b.lock.RLock()
	channels := b.subs[msg.Topic]
	// copy so delivery happens outside the lock snapshot semantics
	subscribers := make([]chan Message, len(channels))
	copy(subscribers, channels)
	b.lock.RUnlock()

	for _, sub := range subscribers {
		select {
		case sub <- msg:
		default:
			logger.Warnw(ctx, "subscriber-buffer-full-dropping-event", log.Fields{"topic": msg.Topic.String()})
		}
	}
}

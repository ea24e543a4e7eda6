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
	"testing"

	"github.com/opencord/pon-core/omci/me"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsIsolateDeviceAndType(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	onu1Create := bus.Subscribe(Topic{DeviceID: "onu-1", Type: Create})
	onu1Delete := bus.Subscribe(Topic{DeviceID: "onu-1", Type: Delete})
	onu2Create := bus.Subscribe(Topic{DeviceID: "onu-2", Type: Create})

	bus.Publish(ctx, Message{
		Topic:    Topic{DeviceID: "onu-1", Type: Create},
		Response: CreateResponse{ClassID: 266, EntityID: 1, Status: me.Success},
	})

	select {
	case msg := <-onu1Create:
		resp, ok := msg.Response.(CreateResponse)
		require.True(t, ok)
		assert.Equal(t, me.ClassID(266), resp.ClassID)
	default:
		t.Fatal("subscriber on the published topic received nothing")
	}
	assert.Empty(t, onu1Delete)
	assert.Empty(t, onu2Create)
}

func TestFanOutToAllSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	topic := Topic{DeviceID: "onu-1", Type: DeviceStatus}

	first := bus.Subscribe(topic)
	second := bus.Subscribe(topic)

	bus.Publish(ctx, Message{Topic: topic, Response: DeviceStatusNotice{Reachable: true}})

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

func TestPublishNeverBlocks(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	topic := Topic{DeviceID: "onu-1", Type: Set}
	ch := bus.Subscribe(topic)

	// one more than the buffer; the overflow message is dropped
	for i := 0; i <= DefaultSubscriberBuffer; i++ {
		bus.Publish(ctx, Message{Topic: topic, Response: SetResponse{EntityID: me.EntityID(i)}})
	}
	assert.Len(t, ch, DefaultSubscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	topic := Topic{DeviceID: "onu-1", Type: InSync}
	ch := bus.Subscribe(topic)

	bus.Unsubscribe(topic, ch)
	_, open := <-ch
	assert.False(t, open)

	// publishing after the last unsubscribe delivers nowhere
	bus.Publish(ctx, Message{Topic: topic, Response: InSyncNotice{InSync: true}})

	// unknown channel is a no-op
	bus.Unsubscribe(topic, make(chan Message))
}

func TestTopicString(t *testing.T) {
	topic := Topic{DeviceID: "onu-7", Type: MibUploadNext}
	assert.Equal(t, "omci-device:onu-7:mib-upload-next", topic.String())
	assert.Equal(t, "unknown", Type(99).String())
}

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
package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/protobuf/proto"
)

const (
	// EventsTopicName carries openflow change events and flow removals,
	// keyed by logical device ID.
	EventsTopicName = "pon.events"
	// PacketInTopicName carries upstream packet-ins, keyed by logical
	// device ID.
	PacketInTopicName = "pon.packet-in"
	// PacketOutTopicName carries downstream packet-outs from the
	// controller, keyed by logical device ID.
	PacketOutTopicName = "pon.packet-out"
	// SyncStatusTopicName carries per-ONU MIB sync status events, keyed
	// by ONU device ID.
	SyncStatusTopicName = "pon.onu-sync-status"

	// OnuMibInSyncEvent is the device event name raised when an ONU MIB
	// reaches or loses sync with its OLT view.
	OnuMibInSyncEvent    = "ONU_MIB_IN_SYNC"
	OnuMibOutOfSyncEvent = "ONU_MIB_OUT_OF_SYNC"
)

// Sender publishes controller-facing events onto the kafka bus.
type Sender struct {
	client          Client
	eventsTopic     Topic
	packetInTopic   Topic
	syncStatusTopic Topic
}

func NewSender(client Client) *Sender {
	return &Sender{
		client:          client,
		eventsTopic:     Topic{Name: EventsTopicName},
		packetInTopic:   Topic{Name: PacketInTopicName},
		syncStatusTopic: Topic{Name: SyncStatusTopicName},
	}
}

// SendChangeEvent publishes a port status change for a logical device.
func (s *Sender) SendChangeEvent(ctx context.Context, logicalDeviceID string, reason ofp.OfpPortReason, desc *ofp.OfpPort) {
	event := &ofp.ChangeEvent{
		Id: logicalDeviceID,
		Event: &ofp.ChangeEvent_PortStatus{
			PortStatus: &ofp.OfpPortStatus{
				Reason: reason,
				Desc:   desc,
			},
		},
	}
	if err := s.client.Send(ctx, event, &s.eventsTopic, logicalDeviceID); err != nil {
		logger.Errorw(ctx, "failed-sending-change-event", log.Fields{"logical-device-id": logicalDeviceID, "reason": reason, "error": err})
	}
}

// SendFlowRemoved publishes a flow removal announcement for a flow that was
// installed with OFPFF_SEND_FLOW_REM.
func (s *Sender) SendFlowRemoved(ctx context.Context, logicalDeviceID string, flow *ofp.OfpFlowStats) {
	removed := &ofp.OfpFlowRemoved{
		Cookie:      flow.Cookie,
		Priority:    flow.Priority,
		Reason:      ofp.OfpFlowRemovedReason_OFPRR_DELETE,
		TableId:     flow.TableId,
		IdleTimeout: flow.IdleTimeout,
		HardTimeout: flow.HardTimeout,
		PacketCount: flow.PacketCount,
		ByteCount:   flow.ByteCount,
		Match:       flow.Match,
	}
	if err := s.client.Send(ctx, removed, &s.eventsTopic, logicalDeviceID); err != nil {
		logger.Errorw(ctx, "failed-sending-flow-removed", log.Fields{"logical-device-id": logicalDeviceID, "flow-id": flow.Id, "error": err})
	}
}

// SendPacketIn publishes an upstream packet for a logical device.
func (s *Sender) SendPacketIn(ctx context.Context, logicalDeviceID string, packet *ofp.OfpPacketIn) {
	packetIn := &ofp.PacketIn{Id: logicalDeviceID, PacketIn: packet}
	if err := s.client.Send(ctx, packetIn, &s.packetInTopic, logicalDeviceID); err != nil {
		logger.Errorw(ctx, "failed-sending-packet-in", log.Fields{"logical-device-id": logicalDeviceID, "error": err})
	}
}

// SendSyncStatus publishes the MIB sync state of an ONU.  The event carries
// the data sync counter and the time of the last successful audit so the
// controller can tell a fresh sync from a stale one.
func (s *Sender) SendSyncStatus(ctx context.Context, deviceID string, inSync bool, mibDataSync uint8, lastSyncTime time.Time) error {
	name := OnuMibOutOfSyncEvent
	if inSync {
		name = OnuMibInSyncEvent
	}
	event := &voltha.DeviceEvent{
		ResourceId:      deviceID,
		DeviceEventName: name,
		Context: map[string]string{
			"mib-data-sync":  strconv.Itoa(int(mibDataSync)),
			"last-sync-time": lastSyncTime.UTC().Format(time.RFC3339),
		},
	}
	return s.client.Send(ctx, event, &s.syncStatusTopic, deviceID)
}

// PacketOutHandler consumes a downstream packet-out for a logical device.
type PacketOutHandler func(ctx context.Context, logicalDeviceID string, packet *ofp.OfpPacketOut)

// ReceivePacketOuts subscribes to the packet-out topic and dispatches every
// packet to the handler until the context is cancelled.
func (s *Sender) ReceivePacketOuts(ctx context.Context, handle PacketOutHandler) error {
	topic := Topic{Name: PacketOutTopicName}
	ch, err := s.client.Subscribe(ctx, &topic, func() proto.Message { return &ofp.PacketOut{} })
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					logger.Info(ctx, "packet-out-channel-closed")
					return
				}
				packetOut, ok := msg.(*ofp.PacketOut)
				if !ok {
					logger.Warnw(ctx, "unexpected-packet-out-message", log.Fields{"message": msg})
					continue
				}
				handle(ctx, packetOut.Id, packetOut.PacketOut)
			case <-ctx.Done():
				logger.Info(ctx, "stopping-packet-out-consumer")
				return
			}
		}
	}()
	return nil
}

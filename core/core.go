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

package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencord/pon-core/adapters/simulated"
	"github.com/opencord/pon-core/config"
	"github.com/opencord/pon-core/core/api"
	"github.com/opencord/pon-core/core/device"
	"github.com/opencord/pon-core/kafka"
	"github.com/opencord/pon-core/omci"
	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/db"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc"
)

// Core represents the running instance of the service
type Core struct {
	shutdown context.CancelFunc
	stopped  chan struct{}
}

// NewCore creates and starts the core service.  Initialization continues in
// the background; readiness is reported through the probe.
func NewCore(ctx context.Context, id string, cf *config.PonCoreFlags) *Core {
	ctx, cancel := context.WithCancel(ctx)
	core := &Core{
		shutdown: cancel,
		stopped:  make(chan struct{}),
	}
	go core.start(ctx, id, cf)
	return core
}

// Stop shuts the core down and waits for the run loop to exit
func (core *Core) Stop() {
	core.shutdown()
	<-core.stopped
}

func (core *Core) start(ctx context.Context, id string, cf *config.PonCoreFlags) {
	logger.Infow(ctx, "starting-core-services", log.Fields{"coreId": id})
	defer close(core.stopped)
	defer core.shutdown()

	// connect to the kv store
	kvClient, err := newKVClient(ctx, cf.KVStoreType, cf.KVStoreAddress, cf.KVStoreTimeout)
	if err != nil {
		logger.Fatal(ctx, err)
	}
	defer stopKVClient(context.Background(), kvClient)
	if err := waitUntilKVStoreReachableOrMaxTries(ctx, kvClient, cf.MaxConnectionRetries, cf.ConnectionRetryInterval); err != nil {
		logger.Fatal(ctx, "unable-to-connect-to-kv-store")
	}
	backend := &db.Backend{
		Client:     kvClient,
		StoreType:  cf.KVStoreType,
		Address:    cf.KVStoreAddress,
		Timeout:    cf.KVStoreTimeout,
		PathPrefix: cf.KVStoreDataPrefix,
		// ~half the minimum liveness interval to avoid a false non-live report
		LivenessChannelInterval: cf.LiveProbeInterval / 2,
	}
	go monitorKVStoreLiveness(ctx, backend, cf.LiveProbeInterval, cf.NotLiveProbeInterval)

	// load the mib mirror from the kv store
	mibDB := mibdb.New(backend)
	if err := mibDB.Start(ctx); err != nil {
		logger.Fatalw(ctx, "unable-to-start-mib-database", log.Fields{"error": err})
	}
	defer mibDB.Stop(context.Background())

	// connect to the message bus
	kafkaClient := kafka.NewSaramaClient(
		kafka.Address(cf.KafkaClusterAddress),
		kafka.ConsumerGroupPrefix(id))
	if err := startKafkaClient(ctx, kafkaClient, cf.MaxConnectionRetries, cf.ConnectionRetryInterval); err != nil {
		logger.Fatal(ctx, "unable-to-connect-to-kafka")
	}
	defer kafkaClient.Stop(context.Background())
	sender := kafka.NewSender(kafkaClient)

	// bring up the simulated pon
	olt := simulated.NewOlt(simulated.Config{NumOnus: cf.SimulatedOnus})
	bus := event.NewBus()
	transport := simulated.NewTransport(bus, mibDB)
	onuByDevice := make(map[string]simulated.OnuInfo)
	for _, onu := range olt.Onus() {
		transport.AddOnu(onu.DeviceID, onu.SerialNumber)
		onuByDevice[onu.DeviceID] = onu
	}

	// logical device over the olt.  The datapath id is derived from the olt
	// mac address; the simulated serial numbers are not hex strings.
	ldMgr := device.NewLogicalManager(olt, sender, cf.InternalTimeout)
	defer ldMgr.Stop(context.Background())
	rootDevice, err := olt.GetDevice(ctx, olt.DeviceID())
	if err != nil {
		logger.Fatalw(ctx, "root-device-not-found", log.Fields{"device-id": olt.DeviceID(), "error": err})
	}
	serialNumber := strings.ReplaceAll(rootDevice.MacAddress, ":", "")
	agent, err := ldMgr.CreateLogicalDevice(ctx, utils.CreateLogicalDeviceID(), serialNumber, olt.DeviceID())
	if err != nil {
		logger.Fatalw(ctx, "unable-to-create-logical-device", log.Fields{"error": err})
	}
	if err := agent.AddLogicalPort(ctx, &voltha.LogicalPort{
		Id:           "nni-1",
		DeviceId:     olt.DeviceID(),
		DevicePortNo: simulated.OltNniPortNo,
		RootPort:     true,
		OfpPort:      &ofp.OfpPort{PortNo: simulated.OltNniPortNo, Name: "nni-1"},
	}); err != nil {
		logger.Fatalw(ctx, "unable-to-add-nni-port", log.Fields{"error": err})
	}

	// the uni logical port of an onu is exposed once its mib mirror is in
	// sync for the first time
	omciAgent := omci.NewAgent(mibDB, bus, transport, sender,
		omci.NumShards(cf.OmciShards),
		omci.FirstInSync(func(cbCtx context.Context, deviceID string) {
			onu, ok := onuByDevice[deviceID]
			if !ok {
				return
			}
			name := fmt.Sprintf("uni-%d", onu.UniPortNo)
			port := &voltha.LogicalPort{
				Id:           name,
				DeviceId:     deviceID,
				DevicePortNo: simulated.OnuUniPortNo,
				OfpPort:      &ofp.OfpPort{PortNo: onu.UniPortNo, Name: name},
			}
			if err := agent.AddLogicalPort(cbCtx, port); err != nil {
				logger.Warnw(cbCtx, "unable-to-add-uni-port", log.Fields{"device-id": deviceID, "error": err})
			}
		}))
	if err := omciAgent.Start(ctx); err != nil {
		logger.Fatalw(ctx, "unable-to-start-omci-agent", log.Fields{"error": err})
	}
	defer omciAgent.Stop(context.Background())
	for _, onu := range olt.Onus() {
		entry, err := omciAgent.AddDeviceEntry(ctx, onu.DeviceID)
		if err != nil {
			logger.Fatalw(ctx, "unable-to-add-device-entry", log.Fields{"device-id": onu.DeviceID, "error": err})
		}
		if err := entry.Start(ctx); err != nil {
			logger.Warnw(ctx, "unable-to-start-device-entry", log.Fields{"device-id": onu.DeviceID, "error": err})
		}
	}
	probe.UpdateStatusFromContext(ctx, "omci-agent", probe.ServiceStatusRunning)

	// controller packet-outs arrive over the message bus
	go func() {
		if err := sender.ReceivePacketOuts(ctx, ldMgr.PacketOut); err != nil && ctx.Err() == nil {
			logger.Warnw(ctx, "packet-out-receiver-stopped", log.Fields{"error": err})
		}
	}()

	// northbound grpc
	var readyProbe api.ReadyProbe
	if p := probe.GetProbeFromContext(ctx); p != nil {
		readyProbe = p
	}
	grpcServer := api.NewGrpcServer(cf.GrpcAddress, readyProbe)
	grpcServer.AddService(func(gs *grpc.Server) {
		voltha.RegisterVolthaServiceServer(gs, api.NewAPIHandler(ldMgr, mibDB))
	})
	go grpcServer.Start(ctx)
	defer grpcServer.Stop()
	probe.UpdateStatusFromContext(ctx, "grpc-service", probe.ServiceStatusRunning)

	// wait for the shutdown signal
	<-ctx.Done()
	logger.Info(ctx, "stopping-core-services")
}

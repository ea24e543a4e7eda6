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

// Package metrics declares the prometheus instruments shared across the core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OmciTasksExecuted counts tasks that ran to completion, per task name
	OmciTasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pon_core_omci_tasks_executed_total",
		Help: "Number of OMCI tasks executed successfully",
	}, []string{"task"})

	// OmciTasksFailed counts tasks that returned an error, per task name
	OmciTasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pon_core_omci_tasks_failed_total",
		Help: "Number of OMCI tasks that failed",
	}, []string{"task"})

	// MibSyncTransitions counts synchronizer state transitions
	MibSyncTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pon_core_mib_sync_transitions_total",
		Help: "Number of MIB synchronizer state transitions",
	}, []string{"from", "to", "trigger"})

	// FlowDecompositions counts full logical-to-device decomposition runs
	FlowDecompositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pon_core_flow_decompositions_total",
		Help: "Number of logical flow table decompositions",
	})

	// LogicalFlows tracks the flow table size per logical device
	LogicalFlows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pon_core_logical_flows",
		Help: "Number of flows in the logical flow table",
	}, []string{"logical_device_id"})

	// LogicalGroups tracks the group table size per logical device
	LogicalGroups = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pon_core_logical_groups",
		Help: "Number of groups in the logical group table",
	}, []string{"logical_device_id"})
)

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
	"time"

	"github.com/opencord/pon-core/kafka"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"
)

// startKafkaClient keeps retrying until the cluster is reachable or the
// retries run out.  maxRetries of -1 retries forever.
func startKafkaClient(ctx context.Context, client kafka.Client, maxRetries int, retryInterval time.Duration) error {
	probe.UpdateStatusFromContext(ctx, "message-bus", probe.ServiceStatusPreparing)

	count := 0
	for {
		if err := client.Start(ctx); err != nil {
			probe.UpdateStatusFromContext(ctx, "message-bus", probe.ServiceStatusNotReady)
			logger.Warnw(ctx, "message-bus-unreachable", log.Fields{"error": err})
			if maxRetries != -1 {
				if count >= maxRetries {
					return err
				}
			}
			count++

			// Take a nap before retrying
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryInterval):
			}
			logger.Infow(ctx, "retry-message-bus-connectivity", log.Fields{"retryCount": count, "maxRetries": maxRetries, "retryInterval": retryInterval})
		} else {
			break
		}
	}
	probe.UpdateStatusFromContext(ctx, "message-bus", probe.ServiceStatusRunning)
	logger.Info(ctx, "message-bus-reachable")
	return nil
}

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

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencord/pon-core/config"
	"github.com/opencord/pon-core/core"
	"github.com/opencord/pon-core/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"
	"github.com/opencord/voltha-lib-go/v7/pkg/version"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

var logger log.CLogger

func init() {
	var err error
	logger, err = log.RegisterPackage(log.JSON, log.ErrorLevel, log.Fields{})
	if err != nil {
		panic(err)
	}
}

func waitForExit(ctx context.Context) int {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	s := <-signalChannel
	switch s {
	case syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT:
		logger.Infow(ctx, "closing-signal-received", log.Fields{"signal": s})
		return 0
	default:
		logger.Infow(ctx, "unexpected-signal-received", log.Fields{"signal": s})
		return 1
	}
}

// initTracing installs a jaeger tracer as the global opentracing tracer.  The
// returned closer flushes any buffered spans.
func initTracing(agentAddress string) (io.Closer, error) {
	tracingCfg := jaegercfg.Configuration{
		ServiceName: "pon-core",
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: agentAddress,
		},
	}
	tracer, closer, err := tracingCfg.NewTracer()
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

func printBanner() {
	fmt.Println("                                                  ")
	fmt.Println(" ____   ___  _   _    ____                        ")
	fmt.Println("|  _ \\ / _ \\| \\ | |  / ___|___  _ __ ___       ")
	fmt.Println("| |_) | | | |  \\| | | |   / _ \\| '__/ _ \\      ")
	fmt.Println("|  __/| |_| | |\\  | | |__| (_) | | |  __/        ")
	fmt.Println("|_|    \\___/|_| \\_|  \\____\\___/|_|  \\___|   ")
	fmt.Println("                                                  ")
}

func printVersion() {
	fmt.Println("PON Core")
	fmt.Println(version.VersionInfo.String("  "))
}

func main() {
	start := time.Now()

	cf := config.NewPonCoreFlags()
	cf.ParseCommandArguments()

	// Set the instance ID as the hostname
	var instanceID string
	hostName := utils.GetHostName()
	if len(hostName) > 0 {
		instanceID = hostName
	} else {
		fmt.Fprintln(os.Stderr, "HOSTNAME not set")
		os.Exit(1)
	}

	logLevel, err := log.StringToLogLevel(cf.LogLevel)
	if err != nil {
		panic(err)
	}

	// Setup default logger - applies for packages that do not have specific logger set
	if _, err := log.SetDefaultLogger(log.JSON, logLevel, log.Fields{"instanceId": instanceID}); err != nil {
		panic(err)
	}

	// Update all loggers (provisioned via init) with a common field
	if err := log.UpdateAllLoggers(log.Fields{"instanceId": instanceID}); err != nil {
		panic(err)
	}

	// Update all loggers to log level specified as input parameter
	log.SetAllLogLevel(logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		if err := log.CleanUp(); err != nil {
			logger.Errorw(ctx, "unable-to-flush-any-buffered-log-entries", log.Fields{"error": err})
		}
	}()

	// Print version / build information and exit
	if cf.DisplayVersionOnly {
		printVersion()
		return
	}

	// Print banner if specified
	if cf.Banner {
		printBanner()
	}

	logger.Infow(ctx, "pon-core-config", log.Fields{"config": *cf})

	if cf.TraceEnabled {
		closer, err := initTracing(cf.TraceAgentAddress)
		if err != nil {
			logger.Fatalw(ctx, "unable-to-initialize-tracing", log.Fields{"error": err})
		}
		defer closer.Close()
	}

	/*
	 * Create and start the liveness and readiness container management probes. This
	 * is done in the main function so just in case the main starts multiple other
	 * objects there can be a single probe end point for the process.
	 */
	p := &probe.Probe{}
	go p.ListenAndServe(ctx, cf.ProbeAddress)
	p.RegisterService(ctx, "kv-store", "message-bus", "omci-agent", "grpc-service")

	// Add the probe to the context to pass to all the services started
	probeCtx := context.WithValue(ctx, probe.ProbeContextKey, p)

	// Serve the prometheus instruments registered across the core
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cf.MetricsAddress, metricsMux); err != nil {
			logger.Errorw(ctx, "metrics-listener-failed", log.Fields{"error": err})
		}
	}()

	// Start the core
	instance := core.NewCore(probeCtx, instanceID, cf)

	code := waitForExit(ctx)
	logger.Infow(ctx, "received-a-closing-signal", log.Fields{"code": code})

	// Cleanup before leaving
	instance.Stop()

	elapsed := time.Since(start)
	logger.Infow(ctx, "pon-core-run-time", log.Fields{"instance": instanceID, "time": elapsed / time.Second})
}

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

package api

import (
	"context"
	"net"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_opentracing "github.com/grpc-ecosystem/go-grpc-middleware/tracing/opentracing"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ReadyProbe gates request handling on component readiness
type ReadyProbe interface {
	IsReady() bool
}

// GrpcServer is the insecure northbound listener.  Services are registered
// before Start; requests received while the probe is not ready are rejected
// with UNAVAILABLE.
type GrpcServer struct {
	gs       *grpc.Server
	address  string
	services []func(*grpc.Server)
	probe    ReadyProbe // optional
}

func NewGrpcServer(address string, probe ReadyProbe) *GrpcServer {
	return &GrpcServer{
		address: address,
		probe:   probe,
	}
}

// AddService appends a service registration function
func (s *GrpcServer) AddService(registerFunction func(*grpc.Server)) {
	s.services = append(s.services, registerFunction)
}

// Start listens and serves until Stop is called.  It blocks.
func (s *GrpcServer) Start(ctx context.Context) {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		logger.Fatalf(ctx, "failed to listen: %v", err)
	}

	serverOptions := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_opentracing.UnaryServerInterceptor(grpc_opentracing.WithTracer(log.ActiveTracerProxy{})),
			s.readinessInterceptor,
			loggingInterceptor,
		))}

	s.gs = grpc.NewServer(serverOptions...)

	for _, service := range s.services {
		service(s.gs)
	}
	reflection.Register(s.gs)

	logger.Infow(ctx, "grpc-server-listening", log.Fields{"address": s.address})
	if err := s.gs.Serve(lis); err != nil {
		logger.Fatalf(ctx, "failed to serve: %v", err)
	}
}

// Stop stops servicing GRPC requests
func (s *GrpcServer) Stop() {
	if s.gs != nil {
		s.gs.Stop()
	}
}

func (s *GrpcServer) readinessInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if s.probe != nil && !s.probe.IsReady() {
		logger.Warnw(ctx, "grpc-request-while-not-ready", log.Fields{"method": info.FullMethod})
		return nil, status.Error(codes.Unavailable, "system is not ready")
	}
	return handler(ctx, req)
}

func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Debugw(ctx, "grpc-request-failed", log.Fields{"method": info.FullMethod, "error": err})
	}
	return resp, err
}

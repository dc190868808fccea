/*
 * vnetd - A Virtual Network OpenFlow Controller
 *
 * Copyright (C) 2026 The vnetd Authors. All rights reserved.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

// Package api implements the northbound REST API used by the orchestration service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sdnlab/vnetd/network"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/google/uuid"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	logger = logging.MustGetLogger("api")
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDEnv    = "REQUEST_ID"
)

type Server struct {
	Port uint16
	TLS  struct {
		Cert string // Path for a TLS certification file.
		Key  string // Path for a TLS private key file.
	}
	Controller Controller
}

type Controller interface {
	Switches() []network.SwitchInfo
	FDB(dpid uint64) ([]network.ForwardingEntry, error)

	Networks() []network.NetworkInfo
	InstallVirtualNetwork(network.NetworkConfig) error
	InstallPhysicalNetwork(network.NetworkConfig) error
	UpdateNetwork(id uint32) error
	RemoveNetwork(id uint32) error

	Instances() []network.InstanceBinding
	BindInstance(network.InstanceBinding) error
	UnbindInstance(name string) error
	BindTunnel(network.TunnelBinding) error
}

func (r *Server) validate() error {
	if r.Controller == nil {
		return errors.New("nil controller")
	}
	if r.Port == 0 {
		return errors.New("invalid port number")
	}

	return nil
}

// Handler returns the REST API mounted under /api/v1 with the Prometheus
// metrics beside it at /metrics.
func (r *Server) Handler() (http.Handler, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	api := rest.NewApi()
	// Middleware to tag every request with an id that is logged by the handlers.
	api.Use(rest.MiddlewareSimple(func(handler rest.HandlerFunc) rest.HandlerFunc {
		return func(writer rest.ResponseWriter, request *rest.Request) {
			id := uuid.NewString()
			request.Env[requestIDEnv] = id
			writer.Header().Set(requestIDHeader, id)
			handler(writer, request)
		}
	}))
	// Middleware to set the CORS header.
	api.Use(rest.MiddlewareSimple(func(handler rest.HandlerFunc) rest.HandlerFunc {
		return func(writer rest.ResponseWriter, request *rest.Request) {
			writer.Header().Set("Access-Control-Allow-Origin", "*")
			handler(writer, request)
		}
	}))
	router, err := rest.MakeRouter(
		rest.Get("/api/v1/switch", r.listSwitch),
		rest.Get("/api/v1/switch/:dpid/fdb", r.listFDB),
		rest.Get("/api/v1/network", r.listNetwork),
		rest.Post("/api/v1/network", r.addNetwork),
		rest.Put("/api/v1/network/:id", r.updateNetwork),
		rest.Delete("/api/v1/network/:id", r.removeNetwork),
		rest.Get("/api/v1/instance", r.listInstance),
		rest.Post("/api/v1/instance", r.bindInstance),
		rest.Delete("/api/v1/instance/:name", r.unbindInstance),
		rest.Post("/api/v1/tunnel", r.bindTunnel),
	)
	if err != nil {
		return nil, err
	}
	api.SetApp(router)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.MakeHandler())
	mux.Handle("/metrics", promhttp.Handler())

	return mux, nil
}

// Serve listens on all interfaces until ctx is canceled.
func (r *Server) Serve(ctx context.Context) error {
	handler, err := r.Handler()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", r.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("failed to shutdown the REST server: %v", err)
		}
	}()

	logger.Infof("serving the REST API on %v (TLS=%v)", server.Addr, r.TLS.Cert != "" && r.TLS.Key != "")
	if r.TLS.Cert != "" && r.TLS.Key != "" {
		err = server.ListenAndServeTLS(r.TLS.Cert, r.TLS.Key)
	} else {
		err = server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func requestID(req *rest.Request) string {
	id, _ := req.Env[requestIDEnv].(string)
	return id
}

// fail logs err and reports it to the client with the status derived from it.
func fail(w rest.ResponseWriter, req *rest.Request, op string, err error) {
	status := errorStatus(err)
	if status >= StatusInternalServerError {
		logger.Errorf("%v failed: request=%v, error=%v", op, requestID(req), err)
	} else {
		logger.Infof("%v rejected: request=%v, error=%v", op, requestID(req), err)
	}
	w.WriteJson(&Response{Status: status, Message: err.Error()})
}

func invalidParam(w rest.ResponseWriter, req *rest.Request, err error) {
	logger.Warningf("failed to decode params: request=%v, error=%v", requestID(req), err)
	w.WriteJson(&Response{Status: StatusInvalidParameter, Message: err.Error()})
}

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

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sdnlab/vnetd/api"
	"github.com/sdnlab/vnetd/hostnet"
	"github.com/sdnlab/vnetd/log"
	"github.com/sdnlab/vnetd/network"
	"github.com/sdnlab/vnetd/ofctl"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/utils/exec"
)

const (
	programName     = "vnetd"
	programVersion  = "0.3.0"
	defaultLogLevel = logging.INFO
)

var (
	logger            = logging.MustGetLogger("main")
	loggerLeveled     logging.LeveledBackend
	showVersion       = pflag.Bool("version", false, "Show program version and exit")
	defaultConfigFile = pflag.String("config", fmt.Sprintf("/usr/local/etc/%v.yaml", programName), "absolute path of the configuration file")
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	pflag.Parse()
	if *showVersion {
		fmt.Printf("Version: %v\n", programVersion)
		os.Exit(0)
	}

	initConfig()
	if err := initLog(getLogLevel(viper.GetString("default.log_level"))); err != nil {
		logger.Fatalf("failed to init log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conf, err := controllerConfig(ctx)
	if err != nil {
		logger.Fatalf("failed to configure the controller: %v", err)
	}
	controller, err := network.NewController(conf)
	if err != nil {
		logger.Fatalf("failed to create the controller: %v", err)
	}
	initAPIServer(ctx, controller)
	initSignalHandler(controller, cancel)

	listen(ctx, viper.GetInt("default.port"), controller)
}

func initConfig() {
	viper.SetDefault("default.log_level", "info")
	viper.SetDefault("default.log_backend", "syslog")
	viper.SetDefault("metadata.address", "169.254.169.254")
	viper.SetDefault("metadata.port", 80)
	viper.SetDefault("metadata.backend_port", 9002)
	viper.SetDefault("fdb.size", 8192)
	viper.SetDefault("rest.port", 7070)

	viper.SetConfigFile(*defaultConfigFile)
	// Read the config file.
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatalf("failed to read the config file: %v", err)
	}
	// Watching and re-reading config file whenever it changes.
	viper.OnConfigChange(func(e fsnotify.Event) {
		// Ignore the WRITE operation to avoid reading empty config.
		if !e.Has(fsnotify.Write) {
			return
		}

		if loggerLeveled != nil {
			// Set log level for all modules
			loggerLeveled.SetLevel(getLogLevel(viper.GetString("default.log_level")), "")
		}
	})
	viper.WatchConfig()
	if err := validateConfig(); err != nil {
		logger.Fatalf("failed to validate the configuration: %v", err)
	}
}

func validateConfig() error {
	if port := viper.GetInt("default.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid default.port")
	}
	if port := viper.GetInt("rest.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid rest.port")
	}
	if net.ParseIP(viper.GetString("metadata.address")).To4() == nil {
		return errors.New("invalid metadata.address")
	}
	if port := viper.GetInt("metadata.port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid metadata.port")
	}
	if port := viper.GetInt("metadata.backend_port"); port <= 0 || port > 0xFFFF {
		return errors.New("invalid metadata.backend_port")
	}
	if addr := viper.GetString("metadata.backend_address"); addr != "" && net.ParseIP(addr).To4() == nil {
		return errors.New("invalid metadata.backend_address")
	}
	if viper.GetInt("fdb.size") <= 0 {
		return errors.New("invalid fdb.size")
	}
	if viper.GetBool("rest.tls") {
		if viper.GetString("rest.cert_file") == "" || viper.GetString("rest.key_file") == "" {
			return errors.New("rest.tls requires rest.cert_file and rest.key_file")
		}
	}

	return nil
}

func controllerConfig(ctx context.Context) (network.Config, error) {
	runner := ofctl.NewRunner(exec.New(), ofctl.Config{
		OfctlPath: viper.GetString("ovs.ofctl_path"),
		VsctlPath: viper.GetString("ovs.vsctl_path"),
		Verbose:   viper.GetBool("ovs.verbose"),
	})

	var resolver network.Resolver
	if endpoint := viper.GetString("ovs.ovsdb_endpoint"); endpoint != "" {
		v, err := ofctl.DialOVSDB(ctx, endpoint)
		if err != nil {
			return network.Config{}, err
		}
		go func() {
			<-ctx.Done()
			v.Close()
		}()
		resolver = v
	} else {
		resolver = ofctl.NewVsctlResolver(runner)
	}

	return network.Config{
		MetadataAddress: net.ParseIP(viper.GetString("metadata.address")).To4(),
		MetadataPort:    uint16(viper.GetInt("metadata.port")),
		BackendAddress:  backendAddress(),
		BackendPort:     uint16(viper.GetInt("metadata.backend_port")),
		FDBSize:         viper.GetInt("fdb.size"),
		Resolver:        resolver,
		Bridge: func(name string) network.Backend {
			return runner.Bridge(name)
		},
	}, nil
}

// backendAddress returns the configured metadata backend address, or the
// host's default gateway if none is configured. NAT is disabled if neither is known.
func backendAddress() net.IP {
	if addr := viper.GetString("metadata.backend_address"); addr != "" {
		return net.ParseIP(addr).To4()
	}

	addr, err := hostnet.DefaultGatewayAddr()
	if err != nil {
		logger.Warningf("metadata NAT is disabled: %v", err)
		return nil
	}
	logger.Infof("using %v as the metadata backend address", addr)

	return addr
}

func initAPIServer(ctx context.Context, controller *network.Controller) {
	go func() {
		srv := &api.Server{Controller: controller}
		srv.Port = uint16(viper.GetInt("rest.port"))
		if viper.GetBool("rest.tls") {
			srv.TLS.Cert = viper.GetString("rest.cert_file")
			srv.TLS.Key = viper.GetString("rest.key_file")
		}

		if err := srv.Serve(ctx); err != nil {
			logger.Fatalf("failed to run the API server: %v", err)
		}
	}()
}

func initSignalHandler(controller *network.Controller, cancel context.CancelFunc) {
	go func() {
		c := make(chan os.Signal, 5)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

		// Infinte loop.
		for {
			s := <-c
			if s == syscall.SIGTERM || s == syscall.SIGINT {
				// Graceful shutdown
				logger.Warning("Shutting down...")
				cancel()
				// Timeout for cancelation
				time.Sleep(5 * time.Second)
				os.Exit(0)
			} else if s == syscall.SIGHUP {
				fmt.Println("* Switches:")
				fmt.Println(spew.Sdump(controller.Switches()))
				fmt.Println("* Networks:")
				fmt.Println(spew.Sdump(controller.Networks()))
			}
		}
	}()
}

func initLog(level logging.Level) error {
	backend, err := log.NewBackend(viper.GetString("default.log_backend"), programName, level)
	if err != nil {
		return err
	}
	loggerLeveled = backend
	logging.SetBackend(loggerLeveled)

	return nil
}

func getLogLevel(level string) logging.Level {
	v, ok := log.ParseLevel(level, defaultLogLevel)
	if !ok {
		logger.Infof("invalid log level=%v, defaulting to %v..", level, defaultLogLevel)
	}

	return v
}

func listen(ctx context.Context, port int, controller *network.Controller) {
	type KeepAliver interface {
		SetKeepAlive(keepalive bool) error
		SetKeepAlivePeriod(d time.Duration) error
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		logger.Errorf("failed to listen on %v port: %v", port, err)
		return
	}
	defer listener.Close()
	logger.Infof("listening for switches on port %v", port)

	// Connection dispatcher.
	f := func(c chan<- net.Conn) {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Errorf("failed to accept a new connection: %v", err)
				continue
			}
			logger.Infof("new device is connected from %v", conn.RemoteAddr())

			// Pass the new connection into the backlog queue.
			c <- conn
		}
	}
	backlog := make(chan net.Conn, 32)
	go f(backlog)

	// Infinite loop
	for {
		select {
		case <-ctx.Done():
			logger.Debug("terminating the main listener loop...")
			return
		case conn := <-backlog:
			if v, ok := conn.(KeepAliver); ok {
				if err := v.SetKeepAlive(true); err == nil {
					// Makes a broken connection will be disconnected within 45 seconds.
					v.SetKeepAlivePeriod(time.Duration(5) * time.Second)
				} else {
					logger.Errorf("failed to enable socket keepalive: %v", err)
				}
			}
			controller.AddConnection(ctx, conn)
		}
	}
}

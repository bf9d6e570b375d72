package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dropwire/broker"
	"dropwire/config"
	"dropwire/discovery"
	"dropwire/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	fmt.Printf("Broker ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Broker Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Listen Port:     %d\n", cfg.ListenPort)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	server := broker.NewServer(broker.Options{
		RoomExpiry:       time.Duration(cfg.RoomExpiryHours) * time.Hour,
		InactivityWindow: time.Duration(cfg.InactivitySeconds) * time.Second,
		SweepInterval:    time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		LivenessInterval: time.Duration(cfg.LivenessIntervalSeconds) * time.Second,
		ICEServers:       cfg.ICEServers,
		Stats:            store,
	})
	defer func() {
		if err := server.Close(); err != nil {
			log.Printf("broker close error: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: server,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	broadcaster, err := discovery.StartBroadcaster(discovery.Config{
		BrokerID:   cfg.DeviceID,
		BrokerName: cfg.DeviceName,
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		log.Printf("discovery startup failed: %v", err)
	} else {
		defer broadcaster.Stop()
		fmt.Println("Discovery:       running")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		fmt.Println("Status:          shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("broker listen failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}

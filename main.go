package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if the worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// A normal return means context cancellation or completion.
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	debugMode := flag.Bool("debug", false, "Run an interactive console over the latest sensor map")
	flag.Parse()

	log.Println("Starting oceanbridge...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	client := NewEcoflowClient(cfg.Serial, cfg.Email, cfg.Password)

	// Create channels for communication between workers
	sensorChan := make(chan map[string]Sensor, 1)
	publishChan := make(chan map[string]Sensor, 1)
	mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
	mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

	sender := NewMQTTSender(mqttOutgoingChan)

	SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
		mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
	})

	SafeGo(ctx, cancel, "mqtt-connection-worker", func(ctx context.Context) {
		mqttConnectionWorker(ctx, cfg.MQTTBroker, cfg.MQTTUsername, cfg.MQTTPassword, cfg.Serial, mqttClientChan)
	})

	// Fan poll results out to the publisher and, if enabled, the debug console
	downstreamChans := []chan<- map[string]Sensor{publishChan}
	if *debugMode {
		debugChan := make(chan map[string]Sensor, 1)
		downstreamChans = append(downstreamChans, debugChan)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, debugChan)
		})
	}

	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, sensorChan, downstreamChans)
	})

	SafeGo(ctx, cancel, "publish-worker", func(ctx context.Context) {
		publishWorker(ctx, publishChan, sender, client.DeviceInfo())
	})

	SafeGo(ctx, cancel, "poll-worker", func(ctx context.Context) {
		pollWorker(ctx, client, cfg.PollInterval, sensorChan, sender)
	})
	log.Println("Workers started")

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}
	cancel()
}

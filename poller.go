package main

import (
	"context"
	"log"
	"time"
)

// offlineAfterFailures is how many consecutive failed poll cycles are
// tolerated before the installation is marked offline. One hiccup of the
// cloud API should not flap every entity in Home Assistant.
const offlineAfterFailures = 3

// pollWorker drives the fetch cycle: retrieve the raw document, normalize it
// into the flat sensor map, and hand the map to the publisher. A failed or
// aborted cycle publishes nothing, so Home Assistant keeps the previously
// known values.
func pollWorker(
	ctx context.Context,
	client *EcoflowClient,
	interval time.Duration,
	sensorChan chan<- map[string]Sensor,
	sender *MQTTSender,
) {
	log.Printf("Polling PowerOcean %s every %v\n", client.Serial, interval)

	online := false
	failures := 0

	setAvailability := func(state string) {
		sender.Send(MQTTMessage{
			Topic:   availabilityTopic(client.Serial),
			Payload: []byte(state),
			QoS:     1,
			Retain:  true,
		})
	}

	poll := func() {
		doc, err := client.FetchRawDocument()
		if err == nil {
			var sensors map[string]Sensor
			if sensors, err = buildSensors(doc, client.Serial); err == nil {
				failures = 0
				if !online {
					online = true
					setAvailability("online")
					log.Println("PowerOcean is online")
				}
				select {
				case sensorChan <- sensors:
				case <-ctx.Done():
				}
				return
			}
		}

		failures++
		log.Printf("Poll cycle failed (%d consecutive), keeping previous sensors: %v\n", failures, err)
		if online && failures >= offlineAfterFailures {
			online = false
			setAvailability("offline")
			log.Println("PowerOcean marked offline after repeated failures")
		}
	}

	poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			poll()
		case <-ctx.Done():
			log.Println("Poll worker stopped")
			return
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// availabilityTopic is where the bridge reports online/offline for the
// installation. Home Assistant marks every sensor unavailable when offline
// is published here.
func availabilityTopic(serial string) string {
	return "powerocean/" + serial + "/status"
}

// stateTopic is the per-sensor state topic. Unique ids already carry the
// inverter serial, so no further namespacing is needed.
func stateTopic(uid string) string {
	return "powerocean/" + uid
}

// mqttConnectionWorker owns the broker connection. Each (re)connected client
// is handed to the sender worker via clientChan so queued messages flush as
// soon as a connection exists. The broker's last-will marks the installation
// offline if the bridge dies.
func mqttConnectionWorker(
	ctx context.Context,
	broker, username, password, serial string,
	clientChan chan<- mqtt.Client,
) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:1883", broker))
	opts.SetClientID("oceanbridge_" + serial)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(availabilityTopic(serial), "offline", 1, true)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", broker)
		select {
		case clientChan <- client:
		case <-ctx.Done():
		}
	})

	client := mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...\n", broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	<-ctx.Done()

	if client.IsConnected() {
		client.Publish(availabilityTopic(serial), 1, true, "offline").Wait()
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them while no
// connected client is available.
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	publish := func(msg MQTTMessage) {
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
		}
	}

	for {
		select {
		case newClient := <-clientChan:
			client = newClient
			if client != nil && client.IsConnected() && len(messageQueue) > 0 {
				for _, msg := range messageQueue {
					publish(msg)
				}
				log.Printf("MQTT sender worker flushed %d queued messages\n", len(messageQueue))
				messageQueue = nil
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(msg)
			} else {
				messageQueue = append(messageQueue, msg)
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

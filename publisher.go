package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
)

// sensorClasses maps a measurement unit to Home Assistant device and state
// classes so energy counters land in the energy dashboard.
func sensorClasses(s Sensor) (deviceClass, stateClass string) {
	switch s.Unit {
	case "W":
		return "power", "measurement"
	case "Wh", "kWh":
		return "energy", "total_increasing"
	case "V":
		return "voltage", "measurement"
	case "A":
		return "current", "measurement"
	case "%":
		return "battery", "measurement"
	case "°C":
		return "temperature", "measurement"
	}
	return "", ""
}

// createSensorEntity announces one sensor to Home Assistant via MQTT
// discovery. The config is retained so HA re-creates the entity after a
// restart without waiting for the next poll.
func createSensorEntity(sender *MQTTSender, device DeviceInfo, s Sensor) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name              string         `json:"name,omitempty"`
		DeviceClass       string         `json:"device_class,omitempty"`
		StateClass        string         `json:"state_class,omitempty"`
		StateTopic        string         `json:"state_topic"`
		AvailabilityTopic string         `json:"availability_topic"`
		UnitOfMeasure     string         `json:"unit_of_measurement,omitempty"`
		UniqueId          string         `json:"unique_id"`
		Icon              string         `json:"icon,omitempty"`
		Device            haDeviceConfig `json:"device"`
	}

	deviceClass, stateClass := sensorClasses(s)
	config := haEntityConfig{
		Name:              s.FriendlyName,
		DeviceClass:       deviceClass,
		StateClass:        stateClass,
		StateTopic:        stateTopic(s.UniqueID),
		AvailabilityTopic: availabilityTopic(device.Serial),
		UnitOfMeasure:     s.Unit,
		UniqueId:          s.UniqueID,
		Icon:              s.Icon,
		Device: haDeviceConfig{
			Identifiers:  []string{"powerocean_" + device.Serial},
			Name:         device.Name,
			Manufacturer: device.Vendor,
			Model:        device.Product,
		},
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	sender.Send(MQTTMessage{
		Topic:   fmt.Sprintf("homeassistant/sensor/powerocean_%s/%s/config", device.Serial, s.UniqueID),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	})

	return nil
}

// formatValue renders a sensor value for an MQTT state payload. Floats avoid
// exponent notation, everything else goes through fmt.
func formatValue(v any) string {
	if n, ok := v.(float64); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// publishWorker receives complete sensor maps from the poller and mirrors
// them to Home Assistant: a retained discovery config once per unique id,
// then the state value on every cycle.
func publishWorker(
	ctx context.Context,
	sensorChan <-chan map[string]Sensor,
	sender *MQTTSender,
	device DeviceInfo,
) {
	announced := make(map[string]bool)

	for {
		select {
		case sensors := <-sensorChan:
			uids := make([]string, 0, len(sensors))
			for uid := range sensors {
				uids = append(uids, uid)
			}
			sort.Strings(uids)

			for _, uid := range uids {
				s := sensors[uid]
				if !announced[uid] {
					if err := createSensorEntity(sender, device, s); err != nil {
						log.Printf("Failed to announce %s: %v\n", uid, err)
						continue
					}
					announced[uid] = true
				}
				sender.Send(MQTTMessage{
					Topic:   stateTopic(uid),
					Payload: []byte(formatValue(s.Value)),
					QoS:     0,
					Retain:  true,
				})
			}
			log.Printf("Published %d sensors (%d entities announced)\n", len(sensors), len(announced))

		case <-ctx.Done():
			log.Println("Publish worker stopped")
			return
		}
	}
}

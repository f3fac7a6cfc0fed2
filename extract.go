package main

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"slices"
	"sort"
)

// Vendor report sub-trees of one inverter's data root.
const (
	reportEMSChange = "JTS1_EMS_CHANGE_REPORT"
	reportBattery   = "JTS1_BP_STA_REPORT"
	reportHeartbeat = "JTS1_EMS_HEARTBEAT"
)

// asObject returns v as a JSON object, or nil if it is anything else.
func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// faultCodeKey matches the dynamic per-string warning/fault code keys of the
// EMS change report (e.g. mpptFaultCode, mpptWarningCode, mpptHwErrCode).
// The vendor emits a variable number of these, so membership cannot be a
// fixed list.
var faultCodeKey = regexp.MustCompile(`^mppt.*Code$`)

// isPackKey recognizes a battery pack serial among the keys of the battery
// report. Pack serials are long vendor identifiers while the control keys are
// short; the length heuristic is fragile but matches the observed vendor
// format. Do not change without confirming the format.
func isPackKey(key string) bool {
	return len(key) > 12
}

// buildSensors runs the full normalization pass: topology resolution, the
// root extractor once, and the three per-inverter report extractors once per
// inverter. It is a pure function of the response document and the configured
// serial; on an unsupported topology it returns no sensors at all.
func buildSensors(doc map[string]any, ownSN string) (map[string]Sensor, error) {
	topo, err := resolveTopology(doc, ownSN)
	if err != nil {
		return nil, err
	}

	sensors := rootSensors(asObject(doc["data"]), ownSN)

	suffix := ""
	if topo.Dual {
		suffix = "_master"
	}
	merge(sensors, inverterSensors(topo.MasterData, topo.MasterSN, suffix))

	if topo.Dual {
		merge(sensors, inverterSensors(topo.SlaveData, topo.SlaveSN, "_slave"))
	}

	return sensors, nil
}

// inverterSensors extracts all report sensors for one inverter.
func inverterSensors(root map[string]any, sn, suffix string) map[string]Sensor {
	sensors := changeReportSensors(root, sn, suffix)
	merge(sensors, batteryPackSensors(root, sn, suffix))
	merge(sensors, heartbeatSensors(root, sn, suffix))
	return sensors
}

// merge copies src into dst. On a unique-id collision the later extractor
// wins; there is deliberately no collision detection.
func merge(dst, src map[string]Sensor) {
	for id, s := range src {
		dst[id] = s
	}
}

// rootSensorKeys is the allow-list of top-level scalar telemetry.
var rootSensorKeys = []string{
	"sysLoadPwr",
	"sysGridPwr",
	"mpptPwr",
	"bpPwr",
	"online",
	"todayElectricityGeneration",
	"monthElectricityGeneration",
	"yearElectricityGeneration",
	"totalElectricityGeneration",
	"systemName",
	"createTime",
}

// rootSensors extracts the system-wide scalars directly from the data root.
// Nested values are skipped even when allow-listed; this level carries
// scalars only.
func rootSensors(data map[string]any, sn string) map[string]Sensor {
	sensors := make(map[string]Sensor)
	for key, value := range data {
		if !slices.Contains(rootSensorKeys, key) {
			continue
		}
		if asObject(value) != nil {
			continue
		}
		icon := ""
		if key == "mpptPwr" {
			icon = "mdi:solar-power"
		}
		id := fmt.Sprintf("%s_%s", sn, key)
		sensors[id] = newSensor(id, sn, id, key, value, key, icon)
	}
	return sensors
}

// changeReportKeys is the fixed part of the EMS change report allow-list;
// the dynamic fault/warning code keys are added via faultCodeKey.
var changeReportKeys = []string{
	"bpTotalChgEnergy",
	"bpTotalDsgEnergy",
	"bpSoc",
	"bpOnlineSum", // number of batteries
	"emsCtrlLedBright",
	"emsWordMode", // export/normal state
}

// changeReportSensors extracts battery totals, charge state and fault codes
// from one inverter's JTS1_EMS_CHANGE_REPORT. A missing report drops only
// this extractor's contribution.
func changeReportSensors(root map[string]any, sn, suffix string) map[string]Sensor {
	report := asObject(root[reportEMSChange])
	if report == nil {
		log.Printf("%s: no %s in response\n", sn, reportEMSChange)
		return nil
	}

	sensors := make(map[string]Sensor)
	for key, value := range report {
		if !slices.Contains(changeReportKeys, key) && !faultCodeKey.MatchString(key) {
			continue
		}
		id := fmt.Sprintf("%s_%s_%s", sn, reportEMSChange, key)
		name := fmt.Sprintf("%s_%s", sn, key)
		sensors[id] = newSensor(id, sn, name, key+suffix, value, key, "")
	}
	return sensors
}

// packSensorKeys is the allow-list of per-battery-pack fields.
var packSensorKeys = []string{
	"bpPwr",
	"bpSoc",
	"bpSoh",
	"bpVol",
	"bpAmp",
	"bpCycles",
	"bpSysState",
	"bpRemainWatth",
}

// batteryPackSensors extracts per-pack metrics from one inverter's
// JTS1_BP_STA_REPORT. Each pack's value is a JSON-encoded string holding the
// actual metrics; an undecodable pack is skipped without aborting the others.
// Packs are numbered bpack1..bpackN in sorted key order so numbering is
// stable across fetches.
func batteryPackSensors(root map[string]any, sn, suffix string) map[string]Sensor {
	report := asObject(root[reportBattery])
	if report == nil {
		log.Printf("%s: no %s in response\n", sn, reportBattery)
		return nil
	}

	var packKeys []string
	for key := range report {
		if isPackKey(key) {
			packKeys = append(packKeys, key)
		}
	}
	sort.Strings(packKeys)

	sensors := make(map[string]Sensor)
	for i, pack := range packKeys {
		packName := fmt.Sprintf("bpack%d_", i+1)

		raw, ok := report[pack].(string)
		if !ok {
			log.Printf("%s: battery pack %s is not a JSON string, skipping\n", sn, pack)
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			log.Printf("%s: undecodable battery pack %s, skipping: %v\n", sn, pack, err)
			continue
		}

		for key, value := range fields {
			if !slices.Contains(packSensorKeys, key) {
				continue
			}
			icon := ""
			if key == "bpAmp" {
				icon = "mdi:current-dc"
			}
			id := fmt.Sprintf("%s_%s_%s_%s", sn, reportBattery, pack, key)
			s := newSensor(id, sn, sn+"_"+packName+key, packName+key+suffix, value, key, icon)
			s.Description = packName + s.Description
			sensors[id] = s
		}

		// Derived mean cell temperature across the pack.
		if mean, ok := meanOf(fields["bpTemp"]); ok {
			key := "bpTemp"
			id := fmt.Sprintf("%s_%s_%s_%s", sn, reportBattery, pack, key)
			s := newSensor(id, sn, sn+"_"+packName+key, packName+key+suffix, mean, key, "")
			s.Description = packName + s.Description
			sensors[id] = s
		}
	}
	return sensors
}

// meanOf computes the arithmetic mean of a JSON number array.
func meanOf(v any) (float64, bool) {
	values, ok := v.([]any)
	if !ok || len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, e := range values {
		n, ok := e.(float64)
		if !ok {
			return 0, false
		}
		sum += n
	}
	return sum / float64(len(values)), true
}

// heartbeatScalarKeys is the allow-list of scalar heartbeat fields.
var heartbeatScalarKeys = []string{
	"bpRemainWatth",
	"emsBpAliveNum",
	"emsBpPower",
	"pcsActPwr",
	"pcsMeterPower",
}

// pcsPhases are the fixed per-phase sub-objects of the heartbeat report.
var pcsPhases = []string{"pcsAPhase", "pcsBPhase", "pcsCPhase"}

// heartbeatSensors extracts PCS per-phase metrics and per-PV-string metrics
// from one inverter's JTS1_EMS_HEARTBEAT, plus the derived total PV string
// power. A missing report or sub-section drops only the part it covers.
func heartbeatSensors(root map[string]any, sn, suffix string) map[string]Sensor {
	report := asObject(root[reportHeartbeat])
	if report == nil {
		log.Printf("%s: no %s in response\n", sn, reportHeartbeat)
		return nil
	}

	sensors := make(map[string]Sensor)
	for key, value := range report {
		if !slices.Contains(heartbeatScalarKeys, key) {
			continue
		}
		id := fmt.Sprintf("%s_%s_%s", sn, reportHeartbeat, key)
		sensors[id] = newSensor(id, sn, sn+"_"+key, key+suffix, value, key, "")
	}

	// Every field of each phase object is emitted, there is no allow-list
	// at this level.
	for _, phase := range pcsPhases {
		for key, value := range asObject(report[phase]) {
			name := phase + "_" + key
			id := fmt.Sprintf("%s_%s_%s", sn, reportHeartbeat, name)
			sensors[id] = newSensor(id, sn, sn+"_"+name, name+suffix, value, key, "")
		}
	}

	merge(sensors, pvStringSensors(report, sn, suffix))

	return sensors
}

// pvStringSensors extracts every field of every PV string from the heartbeat
// and accumulates the summed string power into the derived mpptPv_pwrTotal
// sensor.
func pvStringSensors(report map[string]any, sn, suffix string) map[string]Sensor {
	beats, ok := report["mpptHeartBeat"].([]any)
	if !ok || len(beats) == 0 {
		log.Printf("%s: no mpptHeartBeat in %s\n", sn, reportHeartbeat)
		return nil
	}
	pvs, ok := asObject(beats[0])["mpptPv"].([]any)
	if !ok {
		log.Printf("%s: no mpptPv strings in %s\n", sn, reportHeartbeat)
		return nil
	}

	sensors := make(map[string]Sensor)
	var pwrTotal float64
	for i, entry := range pvs {
		pv := fmt.Sprintf("mpptPv%d", i+1)
		for key, value := range asObject(entry) {
			icon := ""
			if hasAnySuffix(key, "amp") {
				icon = "mdi:current-dc"
			}
			if hasAnySuffix(key, "pwr") {
				icon = "mdi:solar-power"
			}
			id := fmt.Sprintf("%s_%s_mpptHeartBeat_%s_%s", sn, reportHeartbeat, pv, key)
			name := pv + "_" + key
			sensors[id] = newSensor(id, sn, sn+"_"+name, name+suffix, value, key, icon)

			if key == "pwr" {
				if n, ok := value.(float64); ok {
					pwrTotal += n
				}
			}
		}
	}

	name := "mpptPv_pwrTotal"
	id := fmt.Sprintf("%s_%s_mpptHeartBeat_%s", sn, reportHeartbeat, name)
	sensors[id] = Sensor{
		UniqueID:     id,
		Serial:       sn,
		Name:         sn + "_" + name,
		FriendlyName: name + suffix,
		Value:        pwrTotal,
		Unit:         "W",
		Description:  "Solarertrag aller Strings",
		Icon:         "mdi:solar-power",
	}
	return sensors
}

package main

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSN      = "HJ31ZDH4ZF7E0001"
	testSlaveSN = "HJ31ZDH4ZF7E0002"
	testPackA   = "HJ32ZDH2BF4J0012" // pack serials are >12 chars
	testPackB   = "HJ32ZDH2BF4J0034"
)

// roundTrip pushes a fixture through JSON so every value has the type the
// real decoder would produce (all numbers as float64).
func roundTrip(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

// packJSON encodes battery pack fields the way the vendor does: as a
// JSON-encoded string inside the report.
func packJSON(t *testing.T, fields map[string]any) string {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(b)
}

func reportFixture(t *testing.T) map[string]any {
	t.Helper()
	return map[string]any{
		"JTS1_EMS_CHANGE_REPORT": map[string]any{
			"bpTotalChgEnergy": 1234567,
			"bpTotalDsgEnergy": 765432,
			"bpSoc":            88,
			"bpOnlineSum":      2,
			"emsCtrlLedBright": 100,
			"emsWordMode":      0,
			"mpptFaultCode":    0,
			"mpptWarningCode":  3,
			"bpDsgMaxPwr":      5000, // not allow-listed
		},
		"JTS1_BP_STA_REPORT": map[string]any{
			"ems": "ignored", // short control key, not a pack
			testPackA: packJSON(t, map[string]any{
				"bpPwr":         150,
				"bpSoc":         90,
				"bpSoh":         100,
				"bpVol":         52.4,
				"bpAmp":         2.9,
				"bpCycles":      42,
				"bpSysState":    1,
				"bpRemainWatth": 4500,
				"bpTemp":        []any{20, 22, 24},
				"bpBusVol":      400, // not allow-listed
			}),
			testPackB: packJSON(t, map[string]any{
				"bpPwr":  -80,
				"bpSoc":  87,
				"bpTemp": []any{25, 27},
			}),
		},
		"JTS1_EMS_HEARTBEAT": map[string]any{
			"bpRemainWatth": 9000,
			"emsBpAliveNum": 2,
			"emsBpPower":    210,
			"pcsActPwr":     520,
			"pcsMeterPower": 480,
			"emsGridState":  1, // not allow-listed
			"pcsAPhase":     map[string]any{"vol": 230.1, "amp": 2.1, "actPwr": 480},
			"pcsBPhase":     map[string]any{"vol": 231.0, "amp": 1.9, "actPwr": 440},
			"pcsCPhase":     map[string]any{"vol": 229.5, "amp": 2.0, "actPwr": 460},
			"mpptHeartBeat": []any{
				map[string]any{
					"mpptPv": []any{
						map[string]any{"pwr": 100, "vol": 380.0, "amp": 0.26},
						map[string]any{"pwr": 150, "vol": 385.0, "amp": 0.39},
						map[string]any{"pwr": 50, "vol": 370.0, "amp": 0.14},
					},
				},
			},
		},
	}
}

func rootFixture() map[string]any {
	return map[string]any{
		"sysLoadPwr":                 450.5,
		"sysGridPwr":                 -120,
		"mpptPwr":                    1500,
		"bpPwr":                      200,
		"online":                     1,
		"todayElectricityGeneration": 12.3,
		"monthElectricityGeneration": 240.1,
		"yearElectricityGeneration":  3100,
		"totalElectricityGeneration": 8123.4,
		"systemName":                 "Home PV",
		"createTime":                 "2023-05-01 12:00:00",
		"sysGridSta":                 1, // not allow-listed
	}
}

func singleDoc(t *testing.T) map[string]any {
	t.Helper()
	data := rootFixture()
	data["quota"] = reportFixture(t)
	return roundTrip(t, map[string]any{"data": data})
}

func dualDoc(t *testing.T) map[string]any {
	t.Helper()
	data := rootFixture()
	data["quota"] = reportFixture(t)
	data["parallel"] = map[string]any{
		testSN:      reportFixture(t),
		testSlaveSN: reportFixture(t),
	}
	return roundTrip(t, map[string]any{"data": data})
}

func TestBuildSensors_SingleInverter(t *testing.T) {
	sensors, err := buildSensors(singleDoc(t), testSN)
	require.NoError(t, err)

	// Root scalars with {serial}_{key} ids, no suffix anywhere
	s := sensors[testSN+"_sysLoadPwr"]
	assert.Equal(t, 450.5, s.Value)
	assert.Equal(t, "W", s.Unit)
	assert.Equal(t, "Hausnetz", s.Description)
	assert.Equal(t, "sysLoadPwr", s.FriendlyName)

	for _, s := range sensors {
		assert.NotContains(t, s.FriendlyName, "_master")
		assert.NotContains(t, s.FriendlyName, "_slave")
	}

	// Non-allow-listed root key is dropped
	assert.NotContains(t, sensors, testSN+"_sysGridSta")
}

func TestBuildSensors_RootSkipsNestedValues(t *testing.T) {
	data := rootFixture()
	data["online"] = map[string]any{"nested": true}
	data["quota"] = reportFixture(t)
	doc := roundTrip(t, map[string]any{"data": data})

	sensors, err := buildSensors(doc, testSN)
	require.NoError(t, err)
	assert.NotContains(t, sensors, testSN+"_online")
}

func TestBuildSensors_DualInverter(t *testing.T) {
	sensors, err := buildSensors(dualDoc(t), testSN)
	require.NoError(t, err)

	master := sensors[testSN+"_JTS1_EMS_CHANGE_REPORT_bpSoc"]
	assert.Equal(t, "bpSoc_master", master.FriendlyName)
	assert.Equal(t, testSN, master.Serial)

	slave := sensors[testSlaveSN+"_JTS1_EMS_CHANGE_REPORT_bpSoc"]
	assert.Equal(t, "bpSoc_slave", slave.FriendlyName)
	assert.Equal(t, testSlaveSN, slave.Serial)
}

func TestBuildSensors_UnsupportedTopologyAborts(t *testing.T) {
	for _, count := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("%d_serials", count), func(t *testing.T) {
			parallel := map[string]any{}
			for i := 0; i < count; i++ {
				parallel[fmt.Sprintf("HJ31ZDH4ZF7E%04d", i)] = reportFixture(t)
			}
			data := rootFixture()
			data["parallel"] = parallel
			doc := roundTrip(t, map[string]any{"data": data})

			sensors, err := buildSensors(doc, testSN)
			assert.ErrorIs(t, err, errUnsupportedTopology)
			assert.Nil(t, sensors)
		})
	}
}

func TestBuildSensors_Idempotent(t *testing.T) {
	doc := singleDoc(t)
	first, err := buildSensors(doc, testSN)
	require.NoError(t, err)
	second, err := buildSensors(doc, testSN)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChangeReportSensors_FaultCodePattern(t *testing.T) {
	sensors, err := buildSensors(singleDoc(t), testSN)
	require.NoError(t, err)

	assert.Contains(t, sensors, testSN+"_JTS1_EMS_CHANGE_REPORT_mpptFaultCode")
	assert.Contains(t, sensors, testSN+"_JTS1_EMS_CHANGE_REPORT_mpptWarningCode")
	assert.NotContains(t, sensors, testSN+"_JTS1_EMS_CHANGE_REPORT_bpDsgMaxPwr")
}

func TestFaultCodeKeyPredicate(t *testing.T) {
	assert.True(t, faultCodeKey.MatchString("mpptFaultCode"))
	assert.True(t, faultCodeKey.MatchString("mpptHwWarnCode"))
	assert.False(t, faultCodeKey.MatchString("emsFaultCode"))
	assert.False(t, faultCodeKey.MatchString("mpptFaultCodes"))
	assert.False(t, faultCodeKey.MatchString("mpptPwr"))
}

func TestIsPackKeyPredicate(t *testing.T) {
	assert.True(t, isPackKey(testPackA))
	assert.False(t, isPackKey("ems"))
	// boundary: 12 chars is still a control key, 13 is a pack
	assert.False(t, isPackKey("abcdefghijkl"))
	assert.True(t, isPackKey("abcdefghijklm"))
}

func TestBatteryPackSensors_MeanCellTemperature(t *testing.T) {
	sensors, err := buildSensors(singleDoc(t), testSN)
	require.NoError(t, err)

	temp := sensors[testSN+"_JTS1_BP_STA_REPORT_"+testPackA+"_bpTemp"]
	assert.Equal(t, 22.0, temp.Value)
	assert.Equal(t, "°C", temp.Unit)
	assert.Equal(t, "bpack1_Temperatur der Batteriezellen", temp.Description)
	assert.Equal(t, "bpack1_bpTemp", temp.FriendlyName)

	// Packs are numbered in sorted key order, second pack is bpack2
	temp2 := sensors[testSN+"_JTS1_BP_STA_REPORT_"+testPackB+"_bpTemp"]
	assert.Equal(t, 26.0, temp2.Value)
	assert.Equal(t, "bpack2_bpTemp", temp2.FriendlyName)
}

func TestBatteryPackSensors_FieldsAndIcons(t *testing.T) {
	sensors, err := buildSensors(singleDoc(t), testSN)
	require.NoError(t, err)

	amp := sensors[testSN+"_JTS1_BP_STA_REPORT_"+testPackA+"_bpAmp"]
	assert.Equal(t, 2.9, amp.Value)
	assert.Equal(t, "A", amp.Unit)
	assert.Equal(t, "mdi:current-dc", amp.Icon)
	assert.Equal(t, "bpack1_Batteriestrom", amp.Description)

	assert.NotContains(t, sensors, testSN+"_JTS1_BP_STA_REPORT_"+testPackA+"_bpBusVol")
}

func TestBatteryPackSensors_UndecodablePackIsSkipped(t *testing.T) {
	report := reportFixture(t)
	report["JTS1_BP_STA_REPORT"].(map[string]any)[testPackA] = "{not valid json"
	data := rootFixture()
	data["quota"] = report
	doc := roundTrip(t, map[string]any{"data": data})

	sensors, err := buildSensors(doc, testSN)
	require.NoError(t, err)

	// The broken pack contributes nothing, the healthy one survives. Pack
	// numbering follows key order, so the healthy pack is still bpack2.
	assert.NotContains(t, sensors, testSN+"_JTS1_BP_STA_REPORT_"+testPackA+"_bpPwr")
	assert.Contains(t, sensors, testSN+"_JTS1_BP_STA_REPORT_"+testPackB+"_bpPwr")
	assert.Equal(t, "bpack2_bpPwr", sensors[testSN+"_JTS1_BP_STA_REPORT_"+testPackB+"_bpPwr"].FriendlyName)
}

func TestHeartbeatSensors_PhasesAndStrings(t *testing.T) {
	sensors, err := buildSensors(singleDoc(t), testSN)
	require.NoError(t, err)

	vol := sensors[testSN+"_JTS1_EMS_HEARTBEAT_pcsAPhase_vol"]
	assert.Equal(t, 230.1, vol.Value)
	assert.Equal(t, "V", vol.Unit)
	assert.Equal(t, "pcsAPhase_vol", vol.FriendlyName)

	pv2 := sensors[testSN+"_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv2_pwr"]
	assert.Equal(t, 150.0, pv2.Value)
	assert.Equal(t, "mdi:solar-power", pv2.Icon)
	assert.Equal(t, "mpptPv2_pwr", pv2.FriendlyName)

	pv3amp := sensors[testSN+"_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv3_amp"]
	assert.Equal(t, "mdi:current-dc", pv3amp.Icon)

	assert.NotContains(t, sensors, testSN+"_JTS1_EMS_HEARTBEAT_emsGridState")
}

func TestHeartbeatSensors_PVStringPowerTotal(t *testing.T) {
	sensors, err := buildSensors(singleDoc(t), testSN)
	require.NoError(t, err)

	total := sensors[testSN+"_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv_pwrTotal"]
	assert.Equal(t, 300.0, total.Value) // 100 + 150 + 50
	assert.Equal(t, "W", total.Unit)
	assert.Equal(t, "Solarertrag aller Strings", total.Description)
	assert.Equal(t, "mdi:solar-power", total.Icon)
}

func TestExtractors_MissingReportDropsOnlyItsContribution(t *testing.T) {
	report := reportFixture(t)
	delete(report, "JTS1_EMS_HEARTBEAT")
	data := rootFixture()
	data["quota"] = report
	doc := roundTrip(t, map[string]any{"data": data})

	sensors, err := buildSensors(doc, testSN)
	require.NoError(t, err)

	assert.NotContains(t, sensors, testSN+"_JTS1_EMS_HEARTBEAT_pcsActPwr")
	assert.Contains(t, sensors, testSN+"_JTS1_EMS_CHANGE_REPORT_bpSoc")
	assert.Contains(t, sensors, testSN+"_JTS1_BP_STA_REPORT_"+testPackA+"_bpPwr")
	assert.Contains(t, sensors, testSN+"_sysLoadPwr")
}

func TestMerge_LastWriterWins(t *testing.T) {
	dst := map[string]Sensor{"id": {UniqueID: "id", Value: 1.0}}
	merge(dst, map[string]Sensor{"id": {UniqueID: "id", Value: 2.0}})
	assert.Equal(t, 2.0, dst["id"].Value)
	assert.Len(t, dst, 1)
}

func TestBuildSensors_DualEndToEndUniqueIDs(t *testing.T) {
	sensors, err := buildSensors(dualDoc(t), testSN)
	require.NoError(t, err)

	expected := []string{
		// root, keyed by the configured serial
		testSN + "_sysLoadPwr",
		testSN + "_sysGridPwr",
		testSN + "_mpptPwr",
		testSN + "_bpPwr",
		testSN + "_online",
		testSN + "_todayElectricityGeneration",
		testSN + "_monthElectricityGeneration",
		testSN + "_yearElectricityGeneration",
		testSN + "_totalElectricityGeneration",
		testSN + "_systemName",
		testSN + "_createTime",
		// one change-report key, one battery derived key and the PV total
		// per inverter
		testSN + "_JTS1_EMS_CHANGE_REPORT_bpTotalChgEnergy",
		testSlaveSN + "_JTS1_EMS_CHANGE_REPORT_bpTotalChgEnergy",
		testSN + "_JTS1_BP_STA_REPORT_" + testPackA + "_bpTemp",
		testSlaveSN + "_JTS1_BP_STA_REPORT_" + testPackA + "_bpTemp",
		testSN + "_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv_pwrTotal",
		testSlaveSN + "_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv_pwrTotal",
	}
	for _, uid := range expected {
		assert.Contains(t, sensors, uid)
	}

	assert.Equal(t, "mpptPv_pwrTotal_master",
		sensors[testSN+"_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv_pwrTotal"].FriendlyName)
	assert.Equal(t, "mpptPv_pwrTotal_slave",
		sensors[testSlaveSN+"_JTS1_EMS_HEARTBEAT_mpptHeartBeat_mpptPv_pwrTotal"].FriendlyName)
}

func TestMeanOf(t *testing.T) {
	mean, ok := meanOf([]any{20.0, 22.0, 24.0})
	assert.True(t, ok)
	assert.Equal(t, 22.0, mean)

	_, ok = meanOf([]any{})
	assert.False(t, ok)

	_, ok = meanOf("not an array")
	assert.False(t, ok)

	_, ok = meanOf([]any{20.0, "oops"})
	assert.False(t, ok)
}

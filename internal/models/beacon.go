package models

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/benmeehan/ble-node/pkg/ble"
)

// BeaconRecord is one discovered beacon together with its capture time.
type BeaconRecord struct {
	Advertisement ble.Advertisement
	Timestamp     int64 // epoch seconds
	Micros        int64 // microseconds within the second
}

// NewBeaconRecord stamps an advertisement with the given capture time.
func NewBeaconRecord(adv ble.Advertisement, epochSeconds, micros int64) BeaconRecord {
	return BeaconRecord{Advertisement: adv, Timestamp: epochSeconds, Micros: micros}
}

// Serialize renders the record as a flat JSON object of string values. Field
// order is fixed: address, name, appearance, manufData, serviceUUID, txPower,
// rssi, payloadLength, addrType, timestamp, micros. Absent optional fields are
// omitted.
func (r BeaconRecord) Serialize() string {
	adv := r.Advertisement
	w := recordWriter{}

	w.add("address", adv.Address)
	if adv.Name != nil {
		w.add("name", *adv.Name)
	}
	if adv.Appearance != nil {
		w.add("appearance", strconv.FormatUint(uint64(*adv.Appearance), 10))
	}
	if adv.ManufacturerData != nil {
		w.add("manufData", hex.EncodeToString(adv.ManufacturerData))
	}
	if adv.ServiceUUID != nil {
		w.add("serviceUUID", *adv.ServiceUUID)
	}
	if adv.TxPower != nil {
		w.add("txPower", strconv.Itoa(*adv.TxPower))
	}
	if adv.RSSI != nil {
		w.add("rssi", strconv.Itoa(*adv.RSSI))
	}
	w.add("payloadLength", strconv.Itoa(adv.PayloadLength))
	w.add("addrType", strconv.Itoa(adv.AddressType))
	w.add("timestamp", strconv.FormatInt(r.Timestamp, 10))
	w.add("micros", strconv.FormatInt(r.Micros, 10))

	return w.String()
}

type recordWriter struct {
	sb     strings.Builder
	fields int
}

func (w *recordWriter) add(key, value string) {
	if w.fields == 0 {
		w.sb.WriteString("{")
	} else {
		w.sb.WriteString(", ")
	}
	w.sb.WriteString(quote(key))
	w.sb.WriteString(": ")
	w.sb.WriteString(quote(value))
	w.fields++
}

func (w *recordWriter) String() string {
	if w.fields == 0 {
		return "{}"
	}
	return w.sb.String() + "}"
}

// quote returns s as a JSON string literal. Device names are free text.
func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

package ble

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	bluezService    = "org.bluez"
	bluezDevice     = "org.bluez.Device1"
	bluezAdapterDir = "/org/bluez/"
)

// PropertySource returns the cached properties of a discovered device.
type PropertySource interface {
	DeviceProperties(address string) (map[string]dbus.Variant, error)
}

// BluezProperties reads org.bluez.Device1 properties from the system bus.
type BluezProperties struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

// NewBluezProperties connects to the system bus for the given adapter, e.g. hci0.
func NewBluezProperties(adapterID string) (*BluezProperties, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &BluezProperties{conn: conn, adapter: dbus.ObjectPath(bluezAdapterDir + adapterID)}, nil
}

// DeviceProperties fetches all Device1 properties of the device with the given address.
func (p *BluezProperties) DeviceProperties(address string) (map[string]dbus.Variant, error) {
	path := DevicePath(p.adapter, address)
	var props map[string]dbus.Variant
	err := p.conn.Object(bluezService, path).
		Call("org.freedesktop.DBus.Properties.GetAll", 0, bluezDevice).
		Store(&props)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w", path, err)
	}
	return props, nil
}

// DevicePath is the BlueZ object path of a device below an adapter.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return adapter + dbus.ObjectPath("/dev_"+strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

// AdvertisementFromProperties maps Device1 properties to an advertisement.
// The service UUID is the first advertised service, falling back to the first
// service data entry.
func AdvertisementFromProperties(props map[string]dbus.Variant) Advertisement {
	var length payloadLength
	adv := Advertisement{}

	if address, ok := props["Address"].Value().(string); ok {
		adv.Address = address
	}
	if addressType, ok := props["AddressType"].Value().(string); ok && addressType == "random" {
		adv.AddressType = 1
	}
	if name, ok := props["Name"].Value().(string); ok && name != "" {
		adv.Name = &name
		length.add(len(name))
	}
	if appearance, ok := props["Appearance"].Value().(uint16); ok {
		adv.Appearance = &appearance
		length.add(2)
	}
	if txPower, ok := props["TxPower"].Value().(int16); ok {
		value := int(txPower)
		adv.TxPower = &value
		length.add(1)
	}
	if rssi, ok := props["RSSI"].Value().(int16); ok {
		value := int(rssi)
		adv.RSSI = &value
	}

	if data, ok := props["ManufacturerData"].Value().(map[uint16]dbus.Variant); ok {
		companies := make([]uint16, 0, len(data))
		for company := range data {
			companies = append(companies, company)
		}
		slices.Sort(companies)
		for _, company := range companies {
			payload, _ := data[company].Value().([]byte)
			adv.ManufacturerData = appendManufacturerData(adv.ManufacturerData, company, payload)
			length.add(2 + len(payload))
		}
	}

	uuids, _ := props["UUIDs"].Value().([]string)
	length.addUUIDs(uuids)
	if len(uuids) > 0 {
		adv.ServiceUUID = &uuids[0]
	}

	if data, ok := props["ServiceData"].Value().(map[string]dbus.Variant); ok {
		keys := make([]string, 0, len(data))
		for key := range data {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			payload, _ := data[key].Value().([]byte)
			length.add(uuidSize(key) + len(payload))
		}
		if adv.ServiceUUID == nil && len(keys) > 0 {
			adv.ServiceUUID = &keys[0]
		}
	}

	adv.PayloadLength = int(length)
	return adv
}

// toAdvertisement maps the fields the scan result itself carries. It is used
// when the device properties cannot be read.
func toAdvertisement(result bluetooth.ScanResult) Advertisement {
	var length payloadLength
	rssi := int(result.RSSI)
	adv := Advertisement{
		Address: result.Address.String(),
		RSSI:    &rssi,
	}
	if result.Address.IsRandom() {
		adv.AddressType = 1
	}

	if name := result.LocalName(); name != "" {
		adv.Name = &name
		length.add(len(name))
	}

	for _, element := range result.ManufacturerData() {
		adv.ManufacturerData = appendManufacturerData(adv.ManufacturerData, element.CompanyID, element.Data)
		length.add(2 + len(element.Data))
	}

	for i, element := range result.ServiceData() {
		uuid := element.UUID.String()
		if i == 0 {
			adv.ServiceUUID = &uuid
		}
		length.add(uuidSize(uuid) + len(element.Data))
	}

	adv.PayloadLength = int(length)
	return adv
}

// appendManufacturerData appends one element, company id first in little endian.
func appendManufacturerData(dst []byte, company uint16, data []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, company)
	return append(dst, data...)
}

// payloadLength is the encoded size of advertising data structures. BlueZ does
// not expose the raw advertising bytes, so the size is rebuilt from the
// reported fields. The flags structure is never reported and not counted.
type payloadLength int

// add counts one structure: a length byte, a type byte and its data.
func (l *payloadLength) add(dataLen int) {
	*l += payloadLength(2 + dataLen)
}

// addUUIDs counts the 16-bit and 128-bit service class UUID lists.
func (l *payloadLength) addUUIDs(uuids []string) {
	var short, long int
	for _, uuid := range uuids {
		if uuidSize(uuid) == 2 {
			short++
		} else {
			long++
		}
	}
	if short > 0 {
		l.add(2 * short)
	}
	if long > 0 {
		l.add(16 * long)
	}
}

// uuidSize is the number of bytes a UUID takes on air.
func uuidSize(s string) int {
	uuid, err := bluetooth.ParseUUID(s)
	if err == nil && uuid.Is16Bit() {
		return 2
	}
	return 16
}

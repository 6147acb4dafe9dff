package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/pkg/store"
)

// DeviceIdentity holds the short id and the full device name. It does not
// change after boot.
type DeviceIdentity struct {
	ShortID  string `json:"device_id"`
	FullName string `json:"device_name"`
}

// HardwareAddressSource provides the hardware address used for the fallback id.
type HardwareAddressSource interface {
	HardwareAddress() (string, error)
}

// Resolver builds the device identity from the persistent store, falling back
// to the hardware address.
type Resolver struct {
	store      store.Reader
	hwSource   HardwareAddressSource
	namespace  string
	key        string
	namePrefix string
	maxIDLen   int
	logger     zerolog.Logger
}

// NewResolver initializes a new Resolver.
func NewResolver(reader store.Reader, hwSource HardwareAddressSource, namespace, key, namePrefix string,
	maxIDLen int, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:      reader,
		hwSource:   hwSource,
		namespace:  namespace,
		key:        key,
		namePrefix: namePrefix,
		maxIDLen:   maxIDLen,
		logger:     logger,
	}
}

// Resolve reads the short id from the store. An empty or missing value is a
// normal case: the id is then derived from the hardware address and is not
// written back.
func (r *Resolver) Resolve() (DeviceIdentity, error) {
	r.logger.Info().Str("namespace", r.namespace).Msg("Retrieving device id")

	id, found, err := r.store.GetString(r.namespace, r.key)
	if err != nil {
		// An unreadable store is treated like an empty one.
		r.logger.Warn().Err(err).Msg("Failed to read device id from store")
	}
	if len(id) > r.maxIDLen {
		id = id[:r.maxIDLen]
	}

	if found && id != "" {
		r.logger.Info().Str("device_id", id).Msg("Retrieved device id")
	} else {
		mac, err := r.hwSource.HardwareAddress()
		if err != nil {
			return DeviceIdentity{}, fmt.Errorf("no device id stored and hardware address unavailable: %w", err)
		}
		id, err = ShortIDFromHardwareAddress(mac, r.maxIDLen)
		if err != nil {
			return DeviceIdentity{}, err
		}
		r.logger.Info().Str("device_id", id).Str("mac", mac).
			Msg("No device id found in store, falling back to hardware address suffix")
	}

	identity := DeviceIdentity{ShortID: id, FullName: r.namePrefix + id}
	r.logger.Info().Str("device_name", identity.FullName).Msg("Retrieved device name")
	return identity, nil
}

// ShortIDFromHardwareAddress derives the id from the last three octets of a
// colon separated address, e.g. "30:AE:A4:07:0D:64" gives "70D64".
func ShortIDFromHardwareAddress(mac string, maxLen int) (string, error) {
	octets := strings.Split(strings.ToUpper(strings.TrimSpace(mac)), ":")
	if len(octets) < 3 {
		return "", errors.New("invalid hardware address: " + mac)
	}
	suffix := strings.Join(octets[len(octets)-3:], "")
	if len(suffix) > maxLen {
		suffix = suffix[len(suffix)-maxLen:]
	}
	if suffix == "" {
		return "", errors.New("invalid hardware address: " + mac)
	}
	return suffix, nil
}

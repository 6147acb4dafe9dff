package constants

import "time"

// Topic prefixes. Sensor and admin topics append "<network>/<id>", the update topic appends "<id>".
const (
	DefaultSensorTopicPrefix = "sensor/BLE/Scanner/"
	DefaultAdminTopicPrefix  = "admin/BLE/Scanner/"
	DefaultUpdateTopicPrefix = "ota/BLE/Scanner/"
)

const (
	// DefaultMaxMessageSize bounds outbound payloads.
	DefaultMaxMessageSize = 512

	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

// Status payloads. The online payload is built with models.OnlinePayload.
const (
	OfflinePayload      = `{"status": "offline"}`
	OnlinePayloadFormat = `{"status": "online", "firmware": "%s"}`

	PublishFailedNotice = "Publish failed!"
)

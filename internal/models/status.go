package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/benmeehan/ble-node/internal/constants"
)

// OnlinePayload is announced on the admin topic after every broker connect.
func OnlinePayload(firmwareVersion string) string {
	return fmt.Sprintf(constants.OnlinePayloadFormat, firmwareVersion)
}

// BootNotice is sent to the admin topic once the node has finished booting.
func BootNotice(epochSeconds int64, firmwareVersion string, bootDuration time.Duration) string {
	return fmt.Sprintf("Up now %d (v%s) after %d seconds of booting.",
		epochSeconds, firmwareVersion, int64(bootDuration/time.Second))
}

// UpdatePendingNotice describes an accepted update command.
func UpdatePendingNotice(cmd UpdateCommandPayload) string {
	var sb strings.Builder
	sb.WriteString("OTA update info received for")
	fmt.Fprintf(&sb, "\n - version %q", cmd.Version)
	fmt.Fprintf(&sb, "\n - url %q", cmd.URL)
	sb.WriteString("\n Will start update now.")
	return sb.String()
}

// Package mqtt bridges the event bus to an MQTT broker so dashboards
// and home automation can follow chat, search, and image activity.
//
// The bridge uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes a birth message ("online") to the availability topic, a
// retained status document, and re-subscribes to the image command
// topic. A will message moves the availability topic to "offline" on
// unexpected disconnects.
//
// Topics, relative to the configured base topic:
//
//	<base>/availability              online | offline (retained)
//	<base>/status                    JSON status document (retained)
//	<base>/events/<source>/<kind>    one JSON event per bus event
//	<base>/images/submit             inbound: payload is an image prompt
package mqtt

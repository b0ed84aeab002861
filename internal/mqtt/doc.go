// Package mqtt mirrors the assistant's event bus onto an MQTT broker.
//
// Every event is published as JSON to {base}/events/{event_type}. Two
// discovery sensors ("Last Event" and "Generations") make the stream
// visible as a native Home Assistant device with availability
// tracking.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it republishes the retained discovery payloads and a
// birth message ("online"). A will message flips the availability
// topic to "offline" on unexpected disconnects.
package mqtt

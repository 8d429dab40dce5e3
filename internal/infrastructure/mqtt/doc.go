// Package mqtt provides MQTT client connectivity for Elevate.
//
// The server publishes session lifecycle events (started, conflict,
// transfer requested, transferred, ended, expired) to
// elevate/session/{identity}/events so other systems on the bus can react
// to privilege changes. A retained status message on elevate/system/status,
// backed by a Last Will, tells subscribers whether the server is up.
//
// The client agent can also subscribe to its own identity's events and use
// them as a prompt to re-check ownership early.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishJSON(mqtt.Topics{}.SessionEvents("alice"), event, false)
package mqtt

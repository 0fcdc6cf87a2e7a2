// Package ntfy provides a client for the ntfy push-notification service.
//
// The package covers the two halves of the ntfy HTTP API:
//   - Client: publishes a message to a topic with a single POST request
//   - Listener: subscribes to a topic's JSON stream and dispatches events
//
// Publishing options are expressed with Header, which is translated into the
// request headers ntfy understands (Title, Tags, Priority, Actions, ...).
// Only fields that carry a value are sent.
//
// Example usage:
//
//	client, err := ntfy.NewClient(ntfy.Config{
//		ServerURL:  "https://ntfy.example.com",
//		Credential: ntfy.Token("tk_mytoken"),
//	})
//	if err != nil {
//		return err
//	}
//
//	header := &ntfy.Header{Title: "Backup", Tags: "floppy_disk", Priority: 4}
//	header.AddViewAction("Open logs", "https://logs.example.com", false)
//	event, err := client.Publish(ctx, "backups", "Backup finished", header)
//
// Subscribing:
//
//	listener, err := ntfy.NewListener("backups", config)
//	if err != nil {
//		return err
//	}
//	listener.OnEvent(func(e ntfy.Event) {
//		if e.IsMessage() {
//			fmt.Println(e.Message)
//		}
//	})
//	go listener.Start(ctx, true)
//	...
//	listener.Stop()
//
// With reconnect enabled the listener never returns a stream fault to the
// caller; faults are reported through OnDisconnect handlers and the stream
// is reopened after Config.ReconnectDelay until Stop is called.
package ntfy

// Package chatlock is the client library for the conversation lock
// service used by the chatter dashboard.
//
// # Lifecycle
//
// A dashboard tab holds at most one conversation at a time. Session
// encodes the lifecycle the UI needs:
//
//	client, err := chatlock.New("https://locks.internal", chatlock.Options{Token: token})
//	session := client.NewSession(chatlock.SessionOptions{
//	    OnLost: func(ev chatlock.LostEvent) {
//	        // switch the chat to read-only, show "locked by ev.HolderName"
//	    },
//	})
//
//	// Conversation selected: releases the previous one, then acquires.
//	res, err := session.Open(ctx, "conv-42")
//	if !res.Locked {
//	    // read-only, locked by res.HolderName
//	}
//
//	// Back to inbox, logout or unmount.
//	session.Close(ctx)
//
// While a conversation is held the session heartbeats in the background.
// A heartbeat that fails, or that reports another holder, is treated as
// loss of the lock: OnLost fires and the session turns read-only.
//
// Release on tab close cannot be guaranteed; the server-side lease is
// what eventually frees an abandoned conversation. BeaconURL builds the
// URL for a best-effort navigator.sendBeacon release.
package chatlock

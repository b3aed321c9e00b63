/*
Package collector is a development endpoint for the hitmetrics SDK.

It accepts every SDK route, stores each payload as an Event keyed by ULID
in a storage.KV, and streams accepted events to websocket clients on
/v1/tail.

	store, _ := badger.New(badger.Config{Path: "./data"})
	h := collector.NewHandler(store, collector.Options{APIKeys: []string{"dev-key"}})
	go h.Run(ctx)
	http.ListenAndServe(":8080", h.Router())

Identify calls are merged per user: the first visitor id seen for a user
id is canonical and is returned to every later identify for that user.
*/
package collector

/*
Package client is the Go client for the synchronization HTTP API.

It wraps every server operation in a typed method, decodes the server's
error envelope into APIError values, and ships a Watch helper that turns the
NDJSON live stream into a channel of frames.

# Usage

	c := client.New("http://localhost:8080", client.WithUser("user-1"))

	result, err := c.SubmitUpdate(ctx, "tool-1", client.SubmitOptions{
		UpdateType: types.UpdateStateChange,
		EventData:  types.EventData{NewState: map[string]any{"count": 1}},
	})

	frames, err := c.Watch(ctx, "tool-1", "dep-1")
	for frame := range frames {
		// connected, heartbeat, state_update
	}

Authentication is either a bearer token (WithToken) or, against servers
running with auth.allowUserHeader, a plain user ID (WithUser).

# Errors

Server-side failures come back as *APIError carrying the HTTP status and the
stable error code. Use the predicate helpers when branching:

	if client.IsNotFound(err) {
		// key or update does not exist
	}

Transport failures (DNS, refused connection, canceled context) are returned
as ordinary wrapped errors, not APIError.

# See Also

  - pkg/api for the routes and error taxonomy this client speaks
  - pkg/stream for frame semantics on the Watch channel
*/
package client

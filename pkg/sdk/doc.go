/*
Package sdk is the hitmetrics client: page views, custom events, identity,
errors and web vitals, reported from a web page to a hitmetrics collector.

# Quick Start

The SDK runs wherever a host can hand it a browser window (a WASM bridge,
an embedded webview, or browsertest in tests):

	scope := sdk.NewScope(win, nil)
	client := sdk.New(sdk.Config{
	    APIKey: "pk_live_123",
	}, sdk.WithScope(scope))
	defer client.Destroy()

	client.Track("signup", map[string]any{"plan": "pro"})
	client.Identify("user-42", map[string]any{"email": "a@example.com"})

New never fails. In a non-browser process, a nested frame, on a loopback
host, with Do-Not-Track on, or with Disabled set, the client is inert and
every method is a no-op.

# Page Views

Page views are tracked automatically: the initial page, every
history.pushState/replaceState and every back/forward navigation. Sends are
debounced, 300ms for the first page view and 1s for later ones, so redirect
chains and pages the visitor only flashed through are not recorded. When the
visitor leaves a page, the time spent on it is sent with a beacon if it lies
between one second and one hour.

	client := sdk.New(sdk.Config{
	    APIKey:               "pk_live_123",
	    DisableAutoPageViews: true,
	}, sdk.WithScope(scope))
	client.TrackPageView("/checkout")

# Identity

A visitor id persists across visits and a session id lasts until 30 minutes
of inactivity (SessionTimeout). Set CookieDomain to share both across
subdomains; existing same-origin visitor ids are migrated.

# Errors

Uncaught errors and unhandled rejections are captured, plus console.warn and
console.error when CaptureConsole is set. Reports are rate limited to ten
per minute and identical errors are sent once per five minutes.

	client.CaptureError(err, map[string]any{"orderId": id})
	client.CaptureMessage("payment retried", sdk.LevelWarning, nil)

# Multiple Instances

Clients sharing a Scope share one history patch and one set of error
guards. The first client is primary and owns the global error and vitals
hooks; later ones only track page views and events until the primary is
destroyed.

# Delivery

Payloads are delivered on a background queue and never block the caller.
Failed deliveries are dropped, never retried, and only show up in the
debug log (Config.Logger). Call Flush before a planned shutdown:

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Flush(ctx)

# See Also

  - pkg/sdk/httpx for net/http bindings
  - pkg/sdk/host/browsertest for the in-memory browser
  - pkg/collector for the development collector
*/
package sdk

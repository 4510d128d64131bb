package browser

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("siteadapters.lib.browser")
var meter = otel.Meter("siteadapters.lib.browser")

var requestCounter, _ = meter.Int64Counter("browser.requests")
var reloginCounter, _ = meter.Int64Counter("browser.relogins")
var loginFailureCounter, _ = meter.Int64Counter("browser.login_failures")

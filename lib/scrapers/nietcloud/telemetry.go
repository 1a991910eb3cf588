package nietcloud

import (
	"attendbot-backend/lib/telemetry"
)

var tracer = telemetry.Tracer("attendbot.lib.scrapers.nietcloud")

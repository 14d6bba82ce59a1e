package catalog

import "time"

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

func timeNowUTC() time.Time { return time.Now().UTC() }

package httpapi

// StatusResponse reports the watcher's connection state and anchor day.
type StatusResponse struct {
	Status        string   `json:"status"` // "Ready" or "NotReady"
	TradingDay    string   `json:"trading_day,omitempty"`
	Subscriptions []string `json:"subscriptions"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// SubscriptionsResponse lists the current subscription set.
type SubscriptionsResponse struct {
	Instruments []string `json:"instruments"`
}

// AddSubscriptionsRequest adds instruments to the subscription set.
type AddSubscriptionsRequest struct {
	Instruments []string `json:"instruments"`
}

// FlushesResponse lists the flush files persisted for one instrument.
type FlushesResponse struct {
	Instrument string   `json:"instrument"`
	Flushes    []string `json:"flushes"`
}

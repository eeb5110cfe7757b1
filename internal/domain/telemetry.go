package domain

// TelemetrySink receives engine output for persistence and broadcast. Calls
// are fire-and-forget: implementations must never block the caller on I/O.
type TelemetrySink interface {
	RecordQuoteBatch(quotes []Quote)
	RecordSignal(sig Signal)
	RecordTrade(trade Trade)
}

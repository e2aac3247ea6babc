package handler

// BroadcastSeriesEvent implements service.Broadcaster using the WebSocket hub.
func (h *Hub) BroadcastSeriesEvent(seriesID string, eventType string, data any) {
	h.BroadcastToSeries(seriesID, WSEvent{
		Type:     eventType,
		SeriesID: seriesID,
		Data:     data,
	})
}

package api

// RegisterClient registers a client without a connection, as an upgrade
// finishing late would.
func (h *Hub) RegisterClient() bool {
	return h.register(&wsClient{hub: h, done: make(chan struct{})})
}

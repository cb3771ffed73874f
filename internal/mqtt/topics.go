package mqtt

// Topics builds the topic names under a configured prefix.
type Topics struct {
	Prefix string
}

// Update carries every sample as JSON.
func (t Topics) Update() string { return t.Prefix + "/battery/update" }

// Alert carries one message per anomalous sample.
func (t Topics) Alert() string { return t.Prefix + "/alert" }

// Status is the retained online/offline marker, also used as the will.
func (t Topics) Status() string { return t.Prefix + "/status" }

package service

// Layer describes where a service sits relative to the ledger.
type Layer string

const (
	// LayerLedger services submit or build ledger transactions.
	LayerLedger Layer = "ledger"
	// LayerPlatform services only touch the gateway's own state.
	LayerPlatform Layer = "platform"
)

// Descriptor advertises a service's placement and capabilities. It does not
// change runtime behavior; the system manager reports it on /healthz.
type Descriptor struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Layer        Layer    `json:"layer"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}

// Describer is implemented by services that advertise a descriptor.
type Describer interface {
	Descriptor() Descriptor
}

package mqtt

// FakeClient records published events and serves canned states for test
// assertions.
type FakeClient struct {
	// States maps topic to the payload returned by State.
	States map[string]string

	// PeaksEvents contains all peak events that were published.
	PeaksEvents []PeaksEvent

	// PeaksPayloads contains the JSON payloads that were published.
	PeaksPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// PublishError, if set, will be returned by PublishPeaks.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Handler, if set, receives payloads injected via Inject.
	Handler MessageHandler

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{States: make(map[string]string)}
}

// SetState sets the payload returned by State for a topic.
func (f *FakeClient) SetState(topic, payload string) {
	f.States[topic] = payload
}

// Inject simulates an incoming message: it updates the state cache and
// invokes the handler, mirroring RealClient's onMessage path.
func (f *FakeClient) Inject(topic, payload string) {
	f.States[topic] = payload
	if f.Handler != nil {
		f.Handler(topic, payload)
	}
}

// State returns the canned payload for a topic.
func (f *FakeClient) State(topic string) (string, bool) {
	s, ok := f.States[topic]
	return s, ok
}

// PublishPeaks records the peaks event.
func (f *FakeClient) PublishPeaks(event PeaksEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.PeaksEvents = append(f.PeaksEvents, event)

	payload, err := FormatPeaksPayload(event)
	if err != nil {
		return err
	}
	f.PeaksPayloads = append(f.PeaksPayloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded events and states.
func (f *FakeClient) Reset() {
	f.States = make(map[string]string)
	f.PeaksEvents = nil
	f.PeaksPayloads = nil
	f.SystemEvents = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

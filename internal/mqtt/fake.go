package mqtt

// Message is one recorded publish.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records published messages for test assertions.
type FakeClient struct {
	// ConnectResults scripts Connect; each call consumes one entry and the
	// last entry repeats. Empty means success.
	ConnectResults []error

	// PublishResults scripts Publish the same way. Empty means success.
	PublishResults []error

	// Messages contains every successful publish.
	Messages []Message

	// Connected controls the return value of IsConnected.
	Connected bool

	// DropOnPublishError, if set, marks the session down after a failed publish.
	DropOnPublishError bool

	Connects     int
	Publishes    int
	Disconnects  int
	connectIndex int
	publishIndex int
}

// NewFakeClient creates a disconnected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// Connect returns the next scripted result.
func (f *FakeClient) Connect() error {
	f.Connects++
	err := next(f.ConnectResults, &f.connectIndex)
	f.Connected = err == nil
	return err
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Publish records the message or returns the next scripted error.
func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.Publishes++
	if err := next(f.PublishResults, &f.publishIndex); err != nil {
		if f.DropOnPublishError {
			f.Connected = false
		}
		return err
	}
	f.Messages = append(f.Messages, Message{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  append([]byte(nil), payload...),
	})
	return nil
}

// Disconnect marks the session down.
func (f *FakeClient) Disconnect() {
	f.Disconnects++
	f.Connected = false
}

// Reset clears recorded activity and rewinds the scripts.
func (f *FakeClient) Reset() {
	f.Messages = nil
	f.Connected = false
	f.Connects = 0
	f.Publishes = 0
	f.Disconnects = 0
	f.connectIndex = 0
	f.publishIndex = 0
}

func next(script []error, i *int) error {
	if len(script) == 0 {
		return nil
	}
	err := script[*i]
	if *i < len(script)-1 {
		*i++
	}
	return err
}

package events

import (
	"encoding/json"
	"fmt"
	"strconv"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

const typePrefix = "io.docflow.document."

// ToCloudEvent wraps evt in a CloudEvents 1.0 envelope. The type is derived
// from the event kind and the subject is the document ID.
func ToCloudEvent(evt Event, source string) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(evt.DocumentID + "-" + strconv.FormatInt(evt.Version, 10) + "-" + strconv.FormatUint(evt.Sequence, 10))
	ce.SetSource(source)
	ce.SetType(typePrefix + string(evt.Kind))
	ce.SetSubject(evt.DocumentID)
	ce.SetTime(evt.Timestamp)
	ce.SetExtension("stage", evt.Stage)
	if err := ce.SetData(cloudevents.ApplicationJSON, evt); err != nil {
		return ce, fmt.Errorf("encode cloudevent data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("validate cloudevent: %w", err)
	}
	return ce, nil
}

// EncodeCloudEvent renders evt as structured-mode CloudEvents JSON.
func EncodeCloudEvent(evt Event, source string) ([]byte, error) {
	ce, err := ToCloudEvent(evt, source)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ce)
}

// DecodeCloudEvent parses structured-mode CloudEvents JSON back into an Event.
func DecodeCloudEvent(data []byte) (Event, error) {
	var ce cloudevents.Event
	if err := json.Unmarshal(data, &ce); err != nil {
		return Event{}, fmt.Errorf("decode cloudevent: %w", err)
	}
	var evt Event
	if err := ce.DataAs(&evt); err != nil {
		return Event{}, fmt.Errorf("decode cloudevent data: %w", err)
	}
	return evt, nil
}

package models

import "encoding/json"

// EventType names a realtime message pushed to lot subscribers
type EventType string

const (
	EventSnapshot        EventType = "SNAPSHOT"
	EventBidPlaced       EventType = "BID_PLACED"
	EventCommentAdded    EventType = "COMMENT_ADDED"
	EventAutoBidSet      EventType = "AUTOBID_SET"
	EventAutoBidDisabled EventType = "AUTOBID_DISABLED"
)

// Event is a lot scoped state change delivered over the realtime channel
type Event struct {
	Type  EventType `json:"type"`
	LotID string    `json:"lot_id"`
	// Version is the lot version the event was produced from; zero for events
	// that do not touch the lot row.
	Version int64    `json:"version,omitempty"`
	Lot     *Lot     `json:"lot,omitempty"`
	Bid     *Bid     `json:"bid,omitempty"`
	Outbid  *Outbid  `json:"outbid,omitempty"`
	Comment *Comment `json:"comment,omitempty"`
	AutoBid *AutoBid `json:"auto_bid,omitempty"`

	// snapshot payload
	Bids     []Bid     `json:"bids,omitempty"`
	Comments []Comment `json:"comments,omitempty"`
	AutoBids []AutoBid `json:"auto_bids,omitempty"`
}

// snapshotPayload is the SNAPSHOT wire shape: every key is always present,
// the lot is null for an unknown lot and the lists are never null.
type snapshotPayload struct {
	Type     EventType `json:"type"`
	LotID    string    `json:"lot_id"`
	Version  int64     `json:"version"`
	Lot      *Lot      `json:"lot"`
	Bids     []Bid     `json:"bids"`
	Comments []Comment `json:"comments"`
	AutoBids []AutoBid `json:"auto_bids"`
}

// MarshalJSON encodes a SNAPSHOT with its full key set and other events compactly
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type != EventSnapshot {
		type plain Event
		return json.Marshal(plain(e))
	}
	return json.Marshal(snapshotPayload{
		Type:     e.Type,
		LotID:    e.LotID,
		Version:  e.Version,
		Lot:      e.Lot,
		Bids:     nonNil(e.Bids),
		Comments: nonNil(e.Comments),
		AutoBids: nonNil(e.AutoBids),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// SnapshotEvent builds the SNAPSHOT message for a freshly joined subscriber.
// A nil details value yields a snapshot with a null lot.
func SnapshotEvent(lotID string, details *LotDetails) Event {
	ev := Event{
		Type:     EventSnapshot,
		LotID:    lotID,
		Bids:     []Bid{},
		Comments: []Comment{},
		AutoBids: []AutoBid{},
	}
	if details == nil {
		return ev
	}
	lot := details.Lot
	ev.Lot = &lot
	ev.Version = lot.Version
	ev.Bids = nonNil(details.Bids)
	ev.Comments = nonNil(details.Comments)
	ev.AutoBids = nonNil(details.AutoBids)
	return ev
}
